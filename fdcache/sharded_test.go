package fdcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSharded_BasicOps(t *testing.T) {
	t.Parallel()

	c := NewSharded[string, int64](Options{Shards: 8, ReserveHint: 64})

	h := c.Insert(1, "k", 10)
	require.False(t, h.IsNull())
	require.Equal(t, 1, c.Len())
	require.False(t, c.Empty())

	var v int64
	require.True(t, c.Get(h, &v))
	require.Equal(t, int64(10), v)

	require.True(t, c.Update(h, 20))
	require.True(t, c.Get(h, &v))
	require.Equal(t, int64(20), v)

	require.True(t, Add(c, h, 5))
	require.True(t, c.Get(h, &v))
	require.Equal(t, int64(25), v)

	require.Equal(t, h, c.FindHandle("k"))

	require.True(t, c.Erase(h))
	require.False(t, c.Get(h, &v))
	require.Equal(t, int64(25), v, "out must be untouched on a miss")
	require.Equal(t, 0, c.Len())
}

// Every handle routes back to the shard that issued it, and the shard id
// always matches the key's routing.
func TestSharded_ShardEncoding(t *testing.T) {
	t.Parallel()

	c := NewSharded[uint64, uint64](Options{Shards: 16, ReserveHint: 1 << 12})

	for i := uint64(0); i < 1000; i++ {
		h := c.Insert(1, i, i)
		require.False(t, h.IsNull())
		require.Equal(t, c.shardFor(i), h.Shard(), "key %d", i)
		require.Less(t, h.Local(), c.perShardCap)
	}
}

func TestSharded_OptionsClamp(t *testing.T) {
	t.Parallel()

	// Shard count is architectural: at most 256 fit in the encoding.
	c := NewSharded[string, int](Options{Shards: 1000, ReserveHint: 1024})
	require.Equal(t, 256, c.ShardCount())

	// Tiny hints still give every shard at least one slot.
	c2 := NewSharded[string, int](Options{Shards: 256, ReserveHint: 10})
	require.Equal(t, 256, c2.Cap())

	// Zero hint defaults to 32768 total.
	c3 := NewSharded[string, int](Options{Shards: 4})
	require.Equal(t, 1<<15, c3.Cap())

	// Zero shard count picks a CPU-derived default within bounds.
	c4 := NewSharded[string, int](Options{})
	require.GreaterOrEqual(t, c4.ShardCount(), 1)
	require.LessOrEqual(t, c4.ShardCount(), 256)
}

func TestSharded_StaleHandle(t *testing.T) {
	t.Parallel()

	c := NewSharded[string, int64](Options{Shards: 4, ReserveHint: 16})

	h := c.Insert(1, "k", 1)
	require.True(t, c.Erase(h))

	var v int64
	require.False(t, c.Get(h, &v))
	require.False(t, c.Read(h, func(*int64) { t.Error("reader ran on stale handle") }))
	require.False(t, c.Write(h, func(*int64) { t.Error("writer ran on stale handle") }))
	require.False(t, c.Update(h, 2))
	require.False(t, Add(c, h, 1))
	require.False(t, c.Erase(h))

	// Same key, same slot, new generation: the old handle stays dead.
	h2 := c.Insert(1, "k", 2)
	require.Equal(t, h.Position(), h2.Position())
	require.NotEqual(t, h.Generation(), h2.Generation())
	require.False(t, c.Get(h, &v))
	require.True(t, c.Get(h2, &v))
	require.Equal(t, int64(2), v)
}

func TestSharded_InsertSemantics(t *testing.T) {
	t.Parallel()

	c := NewSharded[string, int64](Options{Shards: 4, ReserveHint: 16})

	h1 := c.Insert(1, "k", 10)
	h2 := c.Insert(1, "k", 999)
	require.Equal(t, h1, h2, "duplicate insert returns the existing handle")
	var v int64
	c.Get(h1, &v)
	require.Equal(t, int64(10), v)

	h3 := c.InsertOrAssign(2, "k", 20)
	require.Equal(t, h1.Position(), h3.Position())
	require.Equal(t, h1.Generation(), h3.Generation())
	require.Equal(t, uint8(2), h3.Type())
	c.Get(h3, &v)
	require.Equal(t, int64(20), v)
}

// Mirror of the single-owner forged-handle check, across a shard
// boundary.
func TestSharded_TypeMismatch(t *testing.T) {
	t.Parallel()

	c := NewSharded[string, int](Options{Shards: 8, ReserveHint: 64})

	h := c.Insert(7, "k", 1)
	forged := MakeHandle(h.Type()^0x01, h.Generation(), h.Position())
	var v int
	require.False(t, c.Get(forged, &v))
	require.False(t, c.Erase(forged))
}

// Workers pre-hold handles into their own key partition, then hammer a
// mixed read/add workload. After the join the advisory size matches and
// every counter holds exactly the adds aimed at it.
func TestSharded_ConcurrentReadAdd(t *testing.T) {
	t.Parallel()

	const (
		workers      = 8
		perWorker    = 1_000
		opsPerWorker = 100_000
		addEvery     = 5 // every 5th op is an add
	)

	// 2x headroom: keys spread across shards binomially, so a hint equal
	// to the population would let an unlucky shard overflow.
	c := NewSharded[string, int64](Options{Shards: 32, ReserveHint: 2 * workers * perWorker})

	handles := make([][]Handle, workers)
	for w := 0; w < workers; w++ {
		handles[w] = make([]Handle, perWorker)
		for i := 0; i < perWorker; i++ {
			h := c.Insert(1, fmt.Sprintf("w%d:k%d", w, i), 0)
			require.False(t, h.IsNull())
			handles[w][i] = h
		}
	}

	adds := make([][]int64, workers)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		adds[w] = make([]int64, perWorker)
		g.Go(func() error {
			own := handles[w]
			for i := 0; i < opsPerWorker; i++ {
				j := i % perWorker
				h := own[j]
				if i%addEvery == 0 {
					if !Add(c, h, 1) {
						return fmt.Errorf("add failed on live handle %#x", uint64(h))
					}
					adds[w][j]++
				} else {
					ok := c.Read(h, func(v *int64) {})
					if !ok {
						return fmt.Errorf("read failed on live handle %#x", uint64(h))
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, workers*perWorker, c.Len())
	for w := 0; w < workers; w++ {
		for i, h := range handles[w] {
			var v int64
			require.True(t, c.Get(h, &v))
			require.Equal(t, adds[w][i], v, "worker %d handle %d", w, i)
		}
	}
}

// Counters are plumbed per shard; the aggregate must reflect exactly the
// validation outcomes.
func TestSharded_Stats(t *testing.T) {
	t.Parallel()

	c := NewSharded[string, int](Options{Shards: 4, ReserveHint: 16})

	h1 := c.Insert(1, "a", 1)
	c.Insert(1, "b", 2)

	var v int
	c.Get(h1, &v)                  // hit
	c.Get(MakeHandle(1, 9, 0), &v) // stale or never-issued handle: miss

	got := c.Stats()
	want := Stats{Entries: 2, Hits: 1, Misses: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Stats mismatch (-want +got):\n%s", diff)
	}
}

func TestSharded_GetOrInsert(t *testing.T) {
	t.Parallel()

	c := NewSharded[string, string](Options{Shards: 4, ReserveHint: 64})

	// Nil loader on a miss.
	_, err := c.GetOrInsert(context.Background(), 1, "missing", nil)
	require.ErrorIs(t, err, ErrNoLoader)

	// Nil loader on a hit is fine: the value is already there.
	c.Insert(1, "present", "v")
	h, err := c.GetOrInsert(context.Background(), 1, "present", nil)
	require.NoError(t, err)
	require.False(t, h.IsNull())

	// Loader errors pass through.
	boom := errors.New("boom")
	_, err = c.GetOrInsert(context.Background(), 1, "bad",
		func(context.Context, string) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
}

// Concurrent GetOrInsert for one key runs the loader exactly once.
func TestSharded_GetOrInsert_Coalesced(t *testing.T) {
	t.Parallel()

	c := NewSharded[string, string](Options{Shards: 4, ReserveHint: 64})

	var calls int64
	loader := func(_ context.Context, k string) (string, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(5 * time.Millisecond) // widen the race window
		return "v:" + k, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			h, err := c.GetOrInsert(ctx, 1, "k", loader)
			if err != nil {
				return err
			}
			var v string
			if !c.Get(h, &v) || v != "v:k" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int64(1), atomic.LoadInt64(&calls))
}
