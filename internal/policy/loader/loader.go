// Package loader keeps the current set of jurisdiction policies in an
// immutable snapshot and swaps it atomically on reload.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/singleflight"

	"arbiter/internal/policy"
	"arbiter/internal/policy/metrics"
	"arbiter/pkg/platform/sentinel"
	pstrings "arbiter/pkg/platform/strings"
)

const (
	defaultAlertAfter   = 3
	defaultFetchTimeout = 5 * time.Second
	defaultRetryBackoff = 30 * time.Second
)

// Loader is the rule cache. Reads are lock-free; reloads serialize on mu
// and publish a new snapshot with a single atomic store.
type Loader struct {
	source  Source
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
	group   singleflight.Group

	logger       *slog.Logger
	metrics      *metrics.Metrics
	alertAfter   int
	fetchTimeout time.Duration
	retryBackoff time.Duration
	now          func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithAlertAfter sets how many consecutive validation failures for one
// jurisdiction raise an alert.
func WithAlertAfter(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.alertAfter = n
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.fetchTimeout = d
		}
	}
}

// WithRetryBackoff sets how long Load keeps answering with the recorded
// validation error for a jurisdiction that has never loaded before it
// reads the source again. Reload and the watcher always read.
func WithRetryBackoff(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.retryBackoff = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

func New(source Source, opts ...Option) *Loader {
	l := &Loader{
		source:       source,
		logger:       slog.Default(),
		alertAfter:   defaultAlertAfter,
		fetchTimeout: defaultFetchTimeout,
		retryBackoff: defaultRetryBackoff,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.current.Store(emptySnapshot())
	return l
}

// Current returns the snapshot in force.
func (l *Loader) Current() *Snapshot {
	return l.current.Load()
}

// Status returns the serving state for code.
func (l *Loader) Status(code string) Status {
	return l.current.Load().Status(code)
}

// Load returns the policy for code, reading it from the source on first
// use. Concurrent first loads of one code share a single read.
func (l *Loader) Load(ctx context.Context, code string) (*policy.JurisdictionPolicy, error) {
	snap := l.current.Load()
	if p, ok := snap.Get(code); ok {
		return p, nil
	}
	if st := snap.Status(code); st.LastError != nil && l.now().Before(st.RetryAt) {
		return nil, st.LastError
	}
	v, err, _ := l.group.Do("load:"+code, func() (any, error) {
		if p, ok := l.current.Load().Get(code); ok {
			return p, nil
		}
		_, p, err := l.refresh(ctx, code)
		return p, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*policy.JurisdictionPolicy), nil
}

// Acquire makes sure every code is loaded and returns one snapshot that
// contains all of them.
func (l *Loader) Acquire(ctx context.Context, codes []string) (*Snapshot, error) {
	for _, code := range codes {
		if _, err := l.Load(ctx, code); err != nil {
			return nil, err
		}
	}
	return l.current.Load(), nil
}

// Reload forces a re-read of code. changed is false when the document is
// byte-identical to the one in service.
func (l *Loader) Reload(ctx context.Context, code string) (changed bool, err error) {
	v, err, _ := l.group.Do("reload:"+code, func() (any, error) {
		changed, _, err := l.refresh(ctx, code)
		return changed, err
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// ReloadReport summarizes a bulk reload.
type ReloadReport struct {
	Reloaded  []string                  `json:"reloaded"`
	Unchanged []string                  `json:"unchanged"`
	Missing   []string                  `json:"missing,omitempty"`
	Errors    []*policy.ValidationError `json:"-"`
}

// ReloadAll re-reads the given codes, or every known code when none are
// given. Validation failures are reported per code; other failures are
// joined into the returned error.
func (l *Loader) ReloadAll(ctx context.Context, codes ...string) (ReloadReport, error) {
	var report ReloadReport
	codes = pstrings.DedupeAndTrimUpper(codes)
	if len(codes) == 0 {
		listed, err := l.source.List(ctx)
		if err != nil {
			return report, fmt.Errorf("listing policies: %w", err)
		}
		codes = pstrings.DedupeAndTrimUpper(append(listed, l.current.Load().Codes()...))
	}

	var failures []error
	for _, code := range codes {
		changed, err := l.Reload(ctx, code)
		var verr *policy.ValidationError
		var nf *policy.NotFoundError
		switch {
		case err == nil && changed:
			report.Reloaded = append(report.Reloaded, code)
		case err == nil:
			report.Unchanged = append(report.Unchanged, code)
		case errors.As(err, &verr):
			report.Errors = append(report.Errors, verr)
		case errors.As(err, &nf):
			report.Missing = append(report.Missing, code)
		default:
			failures = append(failures, err)
		}
	}
	return report, errors.Join(failures...)
}

// InvalidateAll drops nothing from service; it re-reads every known
// policy so the next snapshot reflects the source.
func (l *Loader) InvalidateAll(ctx context.Context) (ReloadReport, error) {
	return l.ReloadAll(ctx)
}

// refresh reads code from the source and installs the outcome.
func (l *Loader) refresh(ctx context.Context, code string) (changed bool, p *policy.JurisdictionPolicy, err error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.fetchTimeout)
	defer cancel()

	doc, err := l.source.Fetch(fetchCtx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			l.metrics.IncrementReload(code, "missing")
			if cached, ok := l.current.Load().Get(code); ok {
				l.logger.WarnContext(ctx, "policy document removed; serving last good version",
					"code", code,
					"version", cached.Version,
				)
				l.markDegraded(code)
				return false, cached, &policy.NotFoundError{Code: code}
			}
			return false, nil, &policy.NotFoundError{Code: code}
		}
		l.metrics.IncrementReload(code, "error")
		if cached, ok := l.current.Load().Get(code); ok {
			l.markDegraded(code)
			l.logger.WarnContext(ctx, "policy source unavailable; serving last good version",
				"code", code,
				"version", cached.Version,
				"error", err,
			)
		}
		return false, nil, fmt.Errorf("fetching policy %s: %w", code, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.current.Load()
	cached, hasCached := snap.Get(code)
	if hasCached && cached.ContentHash == policy.Digest(doc.Bytes) {
		l.metrics.IncrementReload(code, "unchanged")
		if snap.Status(code).State != StateLoaded {
			l.install(snap, func(ps map[string]*policy.JurisdictionPolicy, st map[string]Status) {
				st[code] = loadedStatus(cached)
			})
		}
		return false, cached, nil
	}

	next, err := policy.Decode(code, doc.Bytes)
	if err == nil && hasCached {
		err = checkVersionIncrease(code, cached.Version, next.Version)
	}
	if err != nil {
		var verr *policy.ValidationError
		if !errors.As(err, &verr) {
			return false, nil, err
		}
		l.recordInvalid(ctx, snap, code, cached, verr)
		return false, nil, verr
	}

	next.LoadedAt = l.now()
	l.install(snap, func(ps map[string]*policy.JurisdictionPolicy, st map[string]Status) {
		ps[code] = next
		st[code] = loadedStatus(next)
	})
	l.metrics.IncrementReload(code, "changed")
	l.logger.InfoContext(ctx, "policy loaded",
		"code", code,
		"version", next.Version,
		"content_hash", next.ContentHash,
	)
	return true, next, nil
}

// recordInvalid keeps the last good policy in service and tracks the
// failure. Caller holds mu.
func (l *Loader) recordInvalid(ctx context.Context, snap *Snapshot, code string, cached *policy.JurisdictionPolicy, verr *policy.ValidationError) {
	l.metrics.IncrementReload(code, "invalid")
	l.metrics.IncrementValidationFailure(code)

	prev := snap.Status(code)
	failures := prev.ConsecutiveFailures + 1
	st := Status{
		Code:                code,
		State:               StateUnavailable,
		LastError:           verr,
		ConsecutiveFailures: failures,
	}
	if cached != nil {
		verr.LastGoodVersion = cached.Version
		st.State = StateDegraded
		st.Version = cached.Version
		st.ContentHash = cached.ContentHash
		st.LoadedAt = cached.LoadedAt
	} else {
		st.RetryAt = l.now().Add(l.retryBackoff)
	}
	l.install(snap, func(_ map[string]*policy.JurisdictionPolicy, status map[string]Status) {
		status[code] = st
	})

	attrs := []any{
		"code", code,
		"state", st.State,
		"consecutive_failures", failures,
		"error", verr,
	}
	if failures >= l.alertAfter {
		l.metrics.IncrementValidationAlert(code)
		l.logger.ErrorContext(ctx, "policy repeatedly failing validation", append(attrs, "alert", true)...)
		return
	}
	l.logger.WarnContext(ctx, "policy failed validation", attrs...)
}

// markDegraded flags a cached policy as degraded after a read failure.
func (l *Loader) markDegraded(code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := l.current.Load()
	prev := snap.Status(code)
	if prev.State == StateUnavailable {
		return
	}
	l.install(snap, func(_ map[string]*policy.JurisdictionPolicy, status map[string]Status) {
		prev.State = StateDegraded
		prev.ConsecutiveFailures++
		status[code] = prev
	})
}

// install publishes a successor of snap. Caller holds mu.
func (l *Loader) install(snap *Snapshot, mutate func(map[string]*policy.JurisdictionPolicy, map[string]Status)) {
	l.current.Store(snap.with(l.now(), mutate))
	l.metrics.IncrementSnapshotSwap()
}

func loadedStatus(p *policy.JurisdictionPolicy) Status {
	return Status{
		Code:        p.Code,
		State:       StateLoaded,
		Version:     p.Version,
		ContentHash: p.ContentHash,
		LoadedAt:    p.LoadedAt,
	}
}

// checkVersionIncrease rejects a changed document that does not bump its
// semantic version.
func checkVersionIncrease(code, current, next string) error {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return nil
	}
	nv, err := semver.NewVersion(next)
	if err != nil {
		return nil
	}
	if !nv.GreaterThan(cur) {
		return &policy.ValidationError{
			Code: code,
			Errors: []policy.FieldError{{
				Path:    "version",
				Message: fmt.Sprintf("changed document must increase version beyond %s, got %s", current, next),
			}},
		}
	}
	return nil
}
