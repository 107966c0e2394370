package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestHashIgnoresTagInsertionOrder(t *testing.T) {
	t.Parallel()

	tagsA := map[string]string{}
	tagsA["service"] = "api"
	tagsA["dc"] = "dc1"
	tagsA["host"] = "h1"
	tagsB := map[string]string{"host": "h1", "dc": "dc1", "service": "api"}

	for i := 0; i < 20; i++ {
		if Hash("prod", 42, tagsA) != Hash("prod", 42, tagsB) {
			t.Fatalf("expected identical hash for identical tag sets")
		}
	}
}

func TestHashDistinguishesInputs(t *testing.T) {
	t.Parallel()

	base := Hash("prod", 42, map[string]string{"host": "h1"})
	variants := []uint64{
		Hash("stage", 42, map[string]string{"host": "h1"}),
		Hash("prod", 43, map[string]string{"host": "h1"}),
		Hash("prod", 42, map[string]string{"host": "h2"}),
		Hash("prod", 42, map[string]string{"hos": "th1"}),
	}
	for i, variant := range variants {
		if variant == base {
			t.Fatalf("variant %d collides with base hash", i)
		}
	}
}

func TestNewEmptyTagsUseGroupByAll(t *testing.T) {
	t.Parallel()

	key, err := New("prod", 1, map[string]string{})
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	if key.Tags[GroupByAllTag] != "true" || len(key.Tags) != 1 {
		t.Fatalf("unexpected tags %v", key.Tags)
	}
	if key.Hash != Hash("prod", 1, map[string]string{GroupByAllTag: "true"}) {
		t.Fatalf("group-by-all hash mismatch")
	}
}

func TestNewRejectsNilTags(t *testing.T) {
	t.Parallel()

	if _, err := New("prod", 1, nil); !errors.Is(err, ErrMissingTags) {
		t.Fatalf("expected ErrMissingTags, got %v", err)
	}
}

func TestNewCopiesTags(t *testing.T) {
	t.Parallel()

	tags := map[string]string{"host": "h1"}
	key, err := New("prod", 1, tags)
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	tags["host"] = "h2"
	if key.Tags["host"] != "h1" {
		t.Fatalf("key must keep private tag copy")
	}
}

func TestKeyString(t *testing.T) {
	t.Parallel()

	key, err := New("Prod.EU", 7, map[string]string{"host": "h1"})
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	if !strings.HasPrefix(key.String(), "prod_eu.7.") {
		t.Fatalf("unexpected key token %q", key.String())
	}
}
