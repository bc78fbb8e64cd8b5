package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

// Option configures optional collaborators shared by the services.
type Option func(*options)

type options struct {
	locker  ports.KeyLocker
	auditor ports.Auditor
	now     func() time.Time
}

// WithKeyLocker serializes uniqueness and last-admin checks per key across
// instances, in addition to the store transaction.
func WithKeyLocker(l ports.KeyLocker) Option {
	return func(o *options) { o.locker = l }
}

// WithAuditor sends security events to the audit trail.
func WithAuditor(a ports.Auditor) Option {
	return func(o *options) { o.auditor = a }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) audit(event domain.AuditEvent) {
	if o.auditor == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = o.now().UTC()
	}
	o.auditor.Enqueue(event)
}

// lock acquires every key in sorted order so two callers locking
// overlapping sets cannot deadlock.
func (o options) lock(ctx context.Context, keys ...string) (func(), error) {
	if o.locker == nil {
		return func() {}, nil
	}
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range sorted {
		release, err := o.locker.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newID returns a lexicographically sortable ULID string.
func newID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
