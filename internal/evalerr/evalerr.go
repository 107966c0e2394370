package evalerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error marks a failure scoped to one tag-set.
// Params: tags of the offending series and wrapped root cause.
// Returns: typed marker; the tag-set is skipped and the cycle continues.
type Error struct {
	Tags map[string]string
	Err  error
}

// Error returns wrapped error message with rendered tags.
// Params: none.
// Returns: string representation.
func (e Error) Error() string {
	msg := "tag-set error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if len(e.Tags) == 0 {
		return msg
	}
	return fmt.Sprintf("tags %s: %s", renderTags(e.Tags), msg)
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
func (e Error) Unwrap() error {
	return e.Err
}

// TagScoped reports that the failure does not affect other tag-sets.
func (Error) TagScoped() bool {
	return true
}

// Mark wraps error with tag-set marker.
// Params: tags of the failing series and source error.
// Returns: wrapped error or nil.
func Mark(tags map[string]string, err error) error {
	if err == nil {
		return nil
	}
	return Error{Tags: tags, Err: err}
}

// Is reports whether error is tag-set scoped.
// Params: candidate error.
// Returns: true when marker is present; false means the whole cycle failed.
func Is(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		TagScoped() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.TagScoped()
}

func renderTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+tags[key])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
