// Command rotate-loadtest drives login and refresh token rotation against the
// Redis record store and reports latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goToken "github.com/MrEthical07/goToken"
)

type familyState struct {
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		families    = flag.Int("families", 10000, "number of token families to open")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "rotations to perform")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		secret      = flag.String("secret", "rotate-loadtest-secret-0123456789abcdef", "HS256 signing secret (>= 32 bytes)")
	)
	flag.Parse()

	if *families <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "families, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := goToken.DefaultConfig()
	cfg.JWT.Secret = []byte(*secret)
	cfg.Limits.EnableRotationThrottle = false
	cfg.Limits.EnableIssueThrottle = false
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := goToken.New().
		WithConfig(cfg).
		WithRedis(client).
		WithIdentityResolver(goToken.IdentityResolverFunc(func(_ context.Context, subject string) (goToken.Principal, error) {
			return goToken.Principal{Subject: subject, Roles: []string{"user"}, Enabled: true}, nil
		})).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states, loginStats := runLoginPhase(ctx, engine, *families, *concurrency)
	rotateStats := runRotatePhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("rotate", rotateStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("reuse_detected=%d store_unavailable=%d\n",
		snap.Counters[goToken.MetricReuseDetected],
		snap.Counters[goToken.MetricStoreUnavailable])
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func runLoginPhase(ctx context.Context, engine *goToken.Engine, families, concurrency int) ([]familyState, phaseStats) {
	states := make([]familyState, families)
	rec := newRecorder(families)

	start := time.Now()
	rec.run(concurrency, families, func(_ *rand.Rand, i int) error {
		pair, err := engine.Login(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			return err
		}
		states[i].refresh = pair.RefreshToken
		return nil
	})
	return states, rec.stats(time.Since(start))
}

// runRotatePhase rotates random families. Each family's lock keeps a worker from
// presenting a refresh token another worker already rotated.
func runRotatePhase(ctx context.Context, engine *goToken.Engine, states []familyState, ops, concurrency int) phaseStats {
	rec := newRecorder(ops)

	start := time.Now()
	rec.run(concurrency, ops, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		if state.refresh == "" {
			return fmt.Errorf("family not opened")
		}
		pair, err := engine.Rotate(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.refresh = pair.RefreshToken
		return nil
	})
	return rec.stats(time.Since(start))
}

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int64
}

func newRecorder(capacity int) *recorder {
	return &recorder{latencies: make([]time.Duration, 0, capacity)}
}

func (rec *recorder) run(concurrency, ops int, op func(r *rand.Rand, i int) error) {
	var (
		wg     sync.WaitGroup
		cursor int64
	)
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&rec.failures, 1)
				}
				rec.mu.Lock()
				rec.latencies = append(rec.latencies, d)
				rec.mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
}

func (rec *recorder) stats(total time.Duration) phaseStats {
	return computeStats(total, rec.latencies, atomic.LoadInt64(&rec.failures))
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
