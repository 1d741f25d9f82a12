package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubClient struct{ RemoteClient }

func (stubClient) Name() string { return "stub" }

type mapStore map[string]string

func (m mapStore) GetString(key string) string { return m[key] }

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("empty registry", func(t *testing.T) {
		if got := r.List(); len(got) != 0 {
			t.Errorf("List() = %v, want empty", got)
		}
		_, err := r.NewClient("linear", nil)
		if err == nil || !strings.Contains(err.Error(), `unknown tracker "linear"`) {
			t.Errorf("NewClient() error = %v", err)
		}
	})

	t.Run("list returns sorted names", func(t *testing.T) {
		r.Register("zebra", func(*Config) (RemoteClient, error) { return stubClient{}, nil })
		r.Register("alpha", func(*Config) (RemoteClient, error) { return stubClient{}, nil })
		got := r.List()
		if len(got) != 2 || got[0] != "alpha" || got[1] != "zebra" {
			t.Errorf("List() = %v", got)
		}
	})

	t.Run("factory gets a view prefixed by name", func(t *testing.T) {
		var seen *Config
		r.Register("stub", func(cfg *Config) (RemoteClient, error) {
			seen = cfg
			return stubClient{}, nil
		})
		c, err := r.NewClient("stub", mapStore{"stub.api_key": "secret"})
		if err != nil {
			t.Fatal(err)
		}
		if c.Name() != "stub" {
			t.Errorf("Name() = %q", c.Name())
		}
		if got := seen.Get("api_key"); got != "secret" {
			t.Errorf("Get(api_key) = %q, want secret", got)
		}
	})
}

func TestConfigGet(t *testing.T) {
	t.Setenv("LINEAR_API_KEY", "from-env")
	cfg := NewConfig("linear", mapStore{"linear.team": "  ENG  "})

	if got := cfg.Get("team"); got != "ENG" {
		t.Errorf("Get(team) = %q, want trimmed store value", got)
	}
	if got := cfg.Get("api_key"); got != "from-env" {
		t.Errorf("Get(api_key) = %q, want env fallback", got)
	}

	_, err := cfg.GetRequired("endpoint")
	if err == nil {
		t.Fatal("GetRequired() should fail for a missing key")
	}
	for _, want := range []string{"linear.endpoint", "export LINEAR_ENDPOINT="} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("GetRequired() error %q missing %q", err, want)
		}
	}
}

func TestEngineOptionsFromConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts, err := EngineOptionsFromConfig(NewConfig("sync", mapStore{}), 0)
		if err != nil {
			t.Fatal(err)
		}
		if opts.Concurrency != DefaultConcurrency || opts.Retry.MaxAttempts != DefaultMaxAttempts {
			t.Errorf("opts = %+v, retry = %+v", opts, opts.Retry)
		}
		if opts.Retry.CallTimeout != DefaultCallTimeout {
			t.Errorf("CallTimeout = %v", opts.Retry.CallTimeout)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		opts, err := EngineOptionsFromConfig(NewConfig("sync", mapStore{
			"sync.concurrency":   "2",
			"sync.max_attempts":  "6",
			"sync.retry_initial": "100ms",
			"sync.retry_max":     "2s",
			"sync.done_state":    "Shipped",
		}), 10*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		want := RetryPolicy{MaxAttempts: 6, Initial: 100 * time.Millisecond, Max: 2 * time.Second, CallTimeout: 10 * time.Second}
		if *opts.Retry != want {
			t.Errorf("Retry = %+v, want %+v", *opts.Retry, want)
		}
		if opts.Concurrency != 2 || opts.DoneState != "Shipped" {
			t.Errorf("opts = %+v", opts)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		for _, store := range []mapStore{
			{"sync.max_attempts": "0"},
			{"sync.max_attempts": "many"},
			{"sync.retry_max": "forever"},
		} {
			if _, err := EngineOptionsFromConfig(NewConfig("sync", store), 0); err == nil {
				t.Errorf("EngineOptionsFromConfig(%v) should fail", store)
			}
		}
	})
}

func TestResolverCachesUnknownTeam(t *testing.T) {
	calls := 0
	client := &countingClient{teamContext: func(context.Context, string) (*TeamData, error) {
		calls++
		return nil, ErrNotFound
	}}
	r := NewResolver(client, ResolverOptions{Retry: fastRetry(2)})

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "ops")
		var re *ResolutionError
		if !errors.As(err, &re) || re.Kind != KindTeam || re.Names[0] != "OPS" {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("TeamContext called %d times, want 1", calls)
	}
}

type countingClient struct {
	stubClient
	teamContext func(context.Context, string) (*TeamData, error)
}

func (c *countingClient) TeamContext(ctx context.Context, key string) (*TeamData, error) {
	return c.teamContext(ctx, key)
}
