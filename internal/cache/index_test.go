package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Key
		wantErr bool
	}{
		{
			name: "canonical form",
			raw:  "somechannel/42/9000",
			want: Key{Channel: "somechannel", PostID: 42, MediaID: "9000"},
		},
		{
			name:    "missing segment",
			raw:     "somechannel/42",
			wantErr: true,
		},
		{
			name:    "empty segment",
			raw:     "somechannel//9000",
			wantErr: true,
		},
		{
			name:    "non-numeric post id",
			raw:     "somechannel/abc/9000",
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			key, err := ParseKey(testCase.raw)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key != testCase.want {
				t.Fatalf("key = %+v, want %+v", key, testCase.want)
			}
			if key.String() != testCase.raw {
				t.Fatalf("round trip = %q, want %q", key.String(), testCase.raw)
			}
		})
	}
}

func TestIndexTouchPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "index.json")
	index, err := NewIndex(path)
	if err != nil {
		t.Fatalf("new index failed: %v", err)
	}

	key := Key{Channel: "somechannel", PostID: 42, MediaID: "9000"}
	accessed := time.Unix(1700000000, 0)
	if err := index.Touch(key, accessed); err != nil {
		t.Fatalf("touch failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read index file failed: %v", err)
	}
	persisted := make(map[string]int64)
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("parse index file failed: %v", err)
	}
	if got := persisted["somechannel/42/9000"]; got != 1700000000 {
		t.Fatalf("persisted last access = %d, want 1700000000", got)
	}

	// A fresh index over the same file sees the entry.
	reloaded, err := NewIndex(path)
	if err != nil {
		t.Fatalf("new reloaded index failed: %v", err)
	}
	entries, err := reloaded.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Key != key {
		t.Fatalf("entry key = %+v, want %+v", entries[0].Key, key)
	}
	if !entries[0].LastAccess.Equal(accessed) {
		t.Fatalf("entry last access = %v, want %v", entries[0].LastAccess, accessed)
	}
}

func TestIndexTouchUpdatesExistingEntry(t *testing.T) {
	t.Parallel()

	index, err := NewIndex(filepath.Join(t.TempDir(), "index.json"))
	if err != nil {
		t.Fatalf("new index failed: %v", err)
	}

	key := Key{Channel: "somechannel", PostID: 42, MediaID: "9000"}
	if err := index.Touch(key, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("first touch failed: %v", err)
	}
	if err := index.Touch(key, time.Unix(1700000500, 0)); err != nil {
		t.Fatalf("second touch failed: %v", err)
	}

	count, err := index.Len()
	if err != nil {
		t.Fatalf("len failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("len = %d, want 1 (one entry per key)", count)
	}

	entries, err := index.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if got := entries[0].LastAccess.Unix(); got != 1700000500 {
		t.Fatalf("last access = %d, want 1700000500", got)
	}
}

func TestIndexRemoveAll(t *testing.T) {
	t.Parallel()

	index, err := NewIndex(filepath.Join(t.TempDir(), "index.json"))
	if err != nil {
		t.Fatalf("new index failed: %v", err)
	}

	keep := Key{Channel: "somechannel", PostID: 1, MediaID: "a"}
	drop := Key{Channel: "somechannel", PostID: 2, MediaID: "b"}
	for _, key := range []Key{keep, drop} {
		if err := index.Touch(key, time.Unix(1700000000, 0)); err != nil {
			t.Fatalf("touch %s failed: %v", key, err)
		}
	}

	if err := index.RemoveAll([]Key{drop, {Channel: "ghost", PostID: 9, MediaID: "x"}}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	entries, err := index.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != keep {
		t.Fatalf("entries = %+v, want only %+v", entries, keep)
	}
}

func TestIndexSkipsCorruptRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "index.json")
	raw := map[string]int64{
		"somechannel/42/9000": 1700000000,
		"not-a-key":           1700000000,
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal fixture failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}

	index, err := NewIndex(path)
	if err != nil {
		t.Fatalf("new index failed: %v", err)
	}
	entries, err := index.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (corrupt record skipped)", len(entries))
	}
}
