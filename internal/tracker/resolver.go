package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Resolver builds TeamContexts on demand and caches them for the run.
// Concurrent requests for the same key share one remote call; different
// keys resolve in parallel.
type Resolver struct {
	client    RemoteClient
	retry     *RetryPolicy
	doneState string
	log       *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	teams map[string]*TeamContext
	// unknown remembers keys the tracker said do not exist. Transient
	// failures are not remembered so a later entry can try again.
	unknown map[string]error
}

// ResolverOptions configures a Resolver. Zero values pick defaults.
type ResolverOptions struct {
	Retry     *RetryPolicy
	DoneState string
	Log       *slog.Logger
}

// NewResolver creates a resolver backed by client.
func NewResolver(client RemoteClient, opts ResolverOptions) *Resolver {
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		client:    client,
		retry:     opts.Retry,
		doneState: opts.DoneState,
		log:       opts.Log,
		teams:     make(map[string]*TeamContext),
		unknown:   make(map[string]error),
	}
}

func teamCacheKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func (r *Resolver) cached(key string) (*TeamContext, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tc, ok := r.teams[key]; ok {
		return tc, true, nil
	}
	if err, ok := r.unknown[key]; ok {
		return nil, true, err
	}
	return nil, false, nil
}

// Resolve returns the TeamContext for teamKey, fetching it on first use.
func (r *Resolver) Resolve(ctx context.Context, teamKey string) (*TeamContext, error) {
	key := teamCacheKey(teamKey)
	if key == "" {
		return nil, &ValidationError{Field: "team_key", Message: "team_key is required"}
	}
	if tc, ok, err := r.cached(key); ok {
		return tc, err
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		if tc, ok, err := r.cached(key); ok {
			return tc, err
		}
		return r.fetch(ctx, key)
	})
	if shared {
		r.log.Debug("team resolution shared", "team", key)
	}
	if err != nil {
		return nil, err
	}
	return v.(*TeamContext), nil
}

func (r *Resolver) fetch(ctx context.Context, key string) (*TeamContext, error) {
	var data *TeamData
	attempts, err := r.retry.Do(ctx, false, func(ctx context.Context) error {
		d, err := r.client.TeamContext(ctx, key)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		err = &ResolutionError{Kind: KindTeam, Names: []string{key}, Team: key}
		r.mu.Lock()
		r.unknown[key] = err
		r.mu.Unlock()
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("resolving team %s: %w", key, err)
	}

	tc := NewTeamContext(data, r.doneState)
	r.mu.Lock()
	r.teams[key] = tc
	r.mu.Unlock()
	r.log.Debug("resolved team", "team", key, "attempts", attempts,
		"states", len(data.States), "labels", len(data.Labels), "members", len(data.Members))
	return tc, nil
}

// Prefetch resolves the distinct keys concurrently, at most limit at a
// time. Failures are returned per key and do not stop other keys.
func (r *Resolver) Prefetch(ctx context.Context, keys []string, limit int) map[string]error {
	seen := make(map[string]bool, len(keys))
	var distinct []string
	for _, k := range keys {
		k = teamCacheKey(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		distinct = append(distinct, k)
	}

	var mu sync.Mutex
	errs := make(map[string]error)
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, key := range distinct {
		g.Go(func() error {
			if _, err := r.Resolve(gctx, key); err != nil {
				mu.Lock()
				errs[key] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
