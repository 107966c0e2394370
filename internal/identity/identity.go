package identity

import (
	"encoding/binary"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// GroupByAllTag is the synthetic tag assigned to identities without grouping tags.
const GroupByAllTag = "__group_by_all__"

// salt separates the alert-level hash from the tag-string hash.
const salt uint64 = 0x5bd1e9955bd1e995

// ErrMissingTags indicates a nil tag map, distinct from an empty group-by-all set.
var ErrMissingTags = errors.New("identity tags are missing")

// Key is one monitored entity: namespace, alert id, and normalized tag set.
// Params: built by New.
// Returns: stable hash plus the retained tags for reporting.
type Key struct {
	Namespace string
	AlertID   int64
	Tags      map[string]string
	Hash      uint64
}

// New builds a key with its stable hash.
// Params: namespace, alert id, and tag map in any insertion order.
// Returns: key with a private copy of tags or ErrMissingTags for nil map.
func New(namespace string, alertID int64, tags map[string]string) (Key, error) {
	if tags == nil {
		return Key{}, ErrMissingTags
	}
	normalized := Normalize(tags)
	return Key{
		Namespace: namespace,
		AlertID:   alertID,
		Tags:      normalized,
		Hash:      hashNormalized(namespace, alertID, normalized),
	}, nil
}

// Hash returns the identity hash without building a Key.
// Params: namespace, alert id, and non-nil tag map.
// Returns: 64-bit identity; nil tags hash like the group-by-all set.
func Hash(namespace string, alertID int64, tags map[string]string) uint64 {
	if len(tags) == 0 {
		return hashNormalized(namespace, alertID, groupByAll())
	}
	return hashNormalized(namespace, alertID, tags)
}

// Normalize copies tags, replacing an empty set with the group-by-all tag.
func Normalize(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return groupByAll()
	}
	out := make(map[string]string, len(tags))
	for key, value := range tags {
		out[key] = value
	}
	return out
}

// String renders key as a bucket-safe token: "<namespace>.<alert_id>.<hash>".
func (k Key) String() string {
	return Token(k.Namespace, k.AlertID, k.Hash)
}

// Token renders a bucket-safe token for one identity.
// Params: namespace, alert id, and identity hash.
// Returns: dot-separated key usable as KV key or message subject suffix.
func Token(namespace string, alertID int64, hash uint64) string {
	var b strings.Builder
	b.Grow(len(namespace) + 40)
	b.WriteString(sanitize(namespace))
	b.WriteByte('.')
	b.WriteString(strconv.FormatInt(alertID, 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatUint(hash, 16))
	return b.String()
}

func hashNormalized(namespace string, alertID int64, tags map[string]string) uint64 {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	digest := xxhash.New()
	_, _ = digest.WriteString(namespace)
	for _, key := range keys {
		_, _ = digest.Write([]byte{0})
		_, _ = digest.WriteString(key)
		_, _ = digest.Write([]byte{0})
		_, _ = digest.WriteString(tags[key])
	}
	stringHash := digest.Sum64()

	var triple [24]byte
	binary.LittleEndian.PutUint64(triple[0:8], uint64(alertID))
	binary.LittleEndian.PutUint64(triple[8:16], salt)
	binary.LittleEndian.PutUint64(triple[16:24], stringHash)
	return xxhash.Sum64(triple[:])
}

func groupByAll() map[string]string {
	return map[string]string{GroupByAllTag: "true"}
}

// sanitize converts namespace fragments into stable bucket-safe tokens.
// Params: raw value with possible separators.
// Returns: sanitized string with unsupported chars replaced by underscore.
func sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
