package goToken

import (
	"context"
	"testing"

	"github.com/MrEthical07/goToken/store"
)

func newBenchEngine(b *testing.B) *Engine {
	b.Helper()
	engine, err := New().
		WithConfig(testConfig()).
		WithStore(store.NewMemoryStore(nil)).
		WithIdentityResolver(StaticResolver{
			"alice": {Roles: []string{"user", "admin"}, Enabled: true},
		}).
		Build()
	if err != nil {
		b.Fatalf("Build failed: %v", err)
	}
	b.Cleanup(engine.Close)
	return engine
}

func BenchmarkLogin(b *testing.B) {
	engine := newBenchEngine(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Login(ctx, "alice"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRotate(b *testing.B) {
	engine := newBenchEngine(b)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err = engine.Rotate(ctx, pair.RefreshToken)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAuthorize(b *testing.B) {
	engine := newBenchEngine(b)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := engine.Authorize(ctx, pair.AccessToken, "admin"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
