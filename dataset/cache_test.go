package dataset

import (
	"path/filepath"
	"testing"
)

// TestTokenCacheRoundTrip verifies put/get and miss behavior against a real
// database file.
func TestTokenCacheRoundTrip(t *testing.T) {
	c, err := OpenTokenCache(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, ok := c.Get("the cat sat"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	ids := []int{5, 12, 0, 50257}
	if err := c.Put("the cat sat", ids); err != nil {
		t.Fatal(err)
	}

	got, ok := c.Get("the cat sat")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if len(got) != len(ids) {
		t.Fatalf("got %d ids, want %d", len(got), len(ids))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Errorf("ids[%d] = %d, want %d", i, got[i], ids[i])
		}
	}

	// Different text, same length, must miss.
	if _, ok := c.Get("the cat sat."); ok {
		t.Error("hit for different line")
	}
}

// TestTokenCacheOverwrite verifies Put replaces an existing entry, as when
// tokenizer settings change between runs.
func TestTokenCacheOverwrite(t *testing.T) {
	c, err := OpenTokenCache(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Put("line", []int{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("line", []int{3}); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get("line")
	if !ok || len(got) != 1 || got[0] != 3 {
		t.Errorf("got %v, want [3]", got)
	}
}

// TestLoaderUsesCache verifies a second pass over the corpus is served from
// the cache rather than the encoder.
func TestLoaderUsesCache(t *testing.T) {
	cache, err := OpenTokenCache(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	s, err := OpenTextStream(writeLines(t, "aa bb", "cc dd ee"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	enc := &countingEncoder{}
	l, err := NewLoader(s, enc, cache, LoaderConfig{BatchSize: 2, MaxLength: 4, PadID: 0, Workers: 1})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := l.Next(); err != nil {
		t.Fatal(err)
	}
	first := enc.calls
	if first == 0 {
		t.Fatal("encoder never called on cold cache")
	}

	if err := l.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Next(); err != nil {
		t.Fatal(err)
	}
	if enc.calls != first {
		t.Errorf("encoder called %d more times on warm cache", enc.calls-first)
	}
}

type countingEncoder struct {
	calls int
}

func (e *countingEncoder) Encode(text string, maxLen int) []int {
	e.calls++
	return fieldEncoder{}.Encode(text, maxLen)
}
