// Command bench runs a synthetic handle workload against the sharded
// cache, serves Prometheus metrics and optionally exposes pprof.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/IvanBrykalov/fdcache/fdcache"
	pmet "github.com/IvanBrykalov/fdcache/metrics/prom"
)

func main() {
	var (
		capacity = pflag.Int("cap", 1<<18, "total slot capacity")
		shards   = pflag.Int("shards", 0, "number of shards (0=auto, max 256)")

		workers  = pflag.Int("workers", 2*runtime.GOMAXPROCS(0), "worker goroutines")
		duration = pflag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = pflag.Int("reads", 70, "read percentage [0..100]")
		addPct   = pflag.Int("adds", 20, "add (read-modify-write) percentage [0..100]")

		seed    = pflag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = pflag.Int("preload", 0, "pre-inserted entries (0 = cap/2)")

		pprofAddr   = pflag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = pflag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	pflag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	metrics := pmet.New(nil, "fdcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	c := fdcache.NewSharded[uint64, uint64](fdcache.Options{
		Shards:      *shards,
		ReserveHint: *capacity,
		Metrics:     metrics,
	})

	// Preload and keep the handles: the measured loop works through
	// them, not through keys, which is the intended usage pattern.
	pl := *preload
	if pl == 0 {
		pl = *capacity / 2
	}
	handles := make([]fdcache.Handle, 0, pl)
	for i := 0; i < pl; i++ {
		// Weyl-sequence keys: distinct and well spread.
		key := uint64(i)*11400714819323198485 + 0x9e3779b97f4a7c15
		h := c.Insert(1, key, uint64(i))
		if h.IsNull() {
			log.Fatalf("preload refused at %d/%d", i, pl)
		}
		handles = append(handles, h)
	}

	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}
	readCut := *readPct
	addCut := *readPct + *addPct

	var ops, stale uint64
	stop := make(chan struct{})
	time.AfterFunc(*duration, func() { close(stop) })

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(*seed + int64(id)*9973))
			var localOps, localStale uint64
			var sink uint64
			for {
				select {
				case <-stop:
					atomic.AddUint64(&ops, localOps)
					atomic.AddUint64(&stale, localStale)
					return
				default:
				}

				h := handles[r.Intn(len(handles))]
				localOps++
				switch p := r.Intn(100); {
				case p < readCut:
					if !c.Read(h, func(v *uint64) { sink += *v }) {
						localStale++
					}
				case p < addCut:
					if !fdcache.Add(c, h, 1) {
						localStale++
					}
				default:
					// Churn: erase bumps the slot generation, so the
					// handle kept in the shared slice goes stale and
					// other workers start tripping on it. Reinsert a
					// fresh key to keep the population roughly level.
					if c.Erase(h) {
						c.Insert(1, uint64(r.Int63()), 0)
					} else {
						localStale++
					}
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	st := c.Stats()
	fmt.Printf("cap=%d shards=%d workers=%d dur=%v seed=%d\n",
		*capacity, c.ShardCount(), workersN, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  stale-rejections=%d\n",
		ops, float64(ops)/elapsed.Seconds(), stale)
	fmt.Printf("hits=%d misses=%d Len()=%d\n", st.Hits, st.Misses, c.Len())
}
