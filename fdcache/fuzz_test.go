package fdcache

import (
	"strings"
	"testing"
)

// Fuzz the single-owner lifecycle under arbitrary string keys/values and
// type tags. Guards against panics and checks the handle invariants.
// Key/value lengths are capped to keep fuzzing memory bounded.
func FuzzCache_Lifecycle(f *testing.F) {
	f.Add("", "", uint8(0))
	f.Add("a", "1", uint8(1))
	f.Add("αβγ", "δ", uint8(7))
	f.Add("emoji🙂", "🙂🙂", uint8(255))
	f.Add("long", strings.Repeat("x", 1024), uint8(42))

	f.Fuzz(func(t *testing.T, k, v string, typ uint8) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		c := New[string, string](16)

		h := c.Insert(typ, k, v)
		if h.IsNull() {
			t.Fatal("insert into empty cache refused")
		}
		if h.Type() != typ {
			t.Fatalf("handle type %d, want %d", h.Type(), typ)
		}
		if got := c.Get(h); got == nil || *got != v {
			t.Fatalf("round trip: got %v", got)
		}
		if c.FindHandle(k) != h {
			t.Fatal("FindHandle disagrees with Insert")
		}

		// Duplicate insert: same handle, value untouched.
		if h2 := c.Insert(typ, k, "other"); h2 != h {
			t.Fatalf("duplicate insert returned %#x", uint64(h2))
		}
		if got := c.Get(h); *got != v {
			t.Fatal("duplicate insert overwrote the value")
		}

		if !c.Erase(h) {
			t.Fatal("erase must succeed once")
		}
		if c.Get(h) != nil {
			t.Fatal("stale handle resolved")
		}
		if c.Erase(h) {
			t.Fatal("double erase succeeded")
		}

		// Reinsert reuses the slot under a fresh generation.
		h3 := c.Insert(typ, k, v)
		if h3.IsNull() || h3 == h {
			t.Fatalf("reinsert handle %#x (old %#x)", uint64(h3), uint64(h))
		}
	})
}
