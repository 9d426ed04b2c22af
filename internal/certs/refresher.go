package certs

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// Refresher hands out the current keys, fetching a new set first when the
// store has expired.
//
// By default every caller that observes an expired store fetches on its own,
// so concurrent callers at the expiry boundary may fetch redundantly; the last
// Replace wins. WithSingleFlight collapses those fetches into one.
type Refresher struct {
	store        *Store
	fetcher      Fetcher
	metrics      *Metrics
	logger       observability.Logger
	now          func() time.Time
	singleFlight bool
	group        singleflight.Group
}

// RefresherOption is a functional option for Refresher.
type RefresherOption func(*Refresher)

// WithSingleFlight makes concurrent refreshes share one fetch.
func WithSingleFlight(enabled bool) RefresherOption {
	return func(r *Refresher) {
		r.singleFlight = enabled
	}
}

// WithRefresherLogger sets the logger.
func WithRefresherLogger(logger observability.Logger) RefresherOption {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// WithRefresherMetrics sets the metrics updated when a set is installed.
func WithRefresherMetrics(metrics *Metrics) RefresherOption {
	return func(r *Refresher) {
		r.metrics = metrics
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		r.now = now
	}
}

// NewRefresher creates a Refresher over store and fetcher. Both are required.
func NewRefresher(store *Store, fetcher Fetcher, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:   store,
		fetcher: fetcher,
		logger:  observability.NopLogger(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Store returns the underlying store.
func (r *Refresher) Store() *Store {
	return r.store
}

// Keys returns the keys of a fresh set. When the store is expired it fetches
// outside the store lock and installs the result; a failed fetch returns the
// error and leaves the store exactly as it was.
func (r *Refresher) Keys(ctx context.Context) (map[string]*VerificationKey, error) {
	if !r.store.IsExpired(r.now()) {
		return r.store.Snapshot().Keys, nil
	}

	if !r.singleFlight {
		set, err := r.refresh(ctx)
		if err != nil {
			return nil, err
		}
		return set.Keys, nil
	}

	ch := r.group.DoChan("refresh", func() (interface{}, error) {
		// Another caller may have installed a set while this one waited.
		if !r.store.IsExpired(r.now()) {
			return r.store.Snapshot(), nil
		}
		return r.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Set).Keys, nil
	}
}

// Refresh fetches and installs a new set regardless of expiry.
func (r *Refresher) Refresh(ctx context.Context) error {
	_, err := r.refresh(ctx)
	return err
}

func (r *Refresher) refresh(ctx context.Context) (Set, error) {
	set, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return Set{}, err
	}

	r.store.Replace(set)
	r.metrics.RecordSet(set)

	r.logger.WithContext(ctx).Debug("certificate set replaced",
		observability.Int("keys", len(set.Keys)),
		observability.Time("expires_at", set.ExpiresAt),
	)

	return set, nil
}
