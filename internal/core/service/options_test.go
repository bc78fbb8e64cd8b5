package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/99minutos/identity-system/internal/core/domain"
)

type stubLocker struct {
	mu       sync.Mutex
	acquired []string
	released []string
	failOn   string
}

func (l *stubLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if key == l.failOn {
		return nil, errors.New("lock busy")
	}
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released = append(l.released, key)
	}, nil
}

func TestOptions_LockSortsAndDedups(t *testing.T) {
	locker := &stubLocker{}
	o := buildOptions([]Option{WithKeyLocker(locker)})

	release, err := o.lock(context.Background(), "username:zed", "email:a@example.com", "username:zed")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	release()

	want := []string{"email:a@example.com", "username:zed"}
	if !slices.Equal(locker.acquired, want) {
		t.Fatalf("acquired %v, want %v", locker.acquired, want)
	}
	if !slices.Equal(locker.released, []string{"username:zed", "email:a@example.com"}) {
		t.Fatalf("expected release in reverse order, got %v", locker.released)
	}
}

func TestOptions_LockFailureReleasesHeldKeys(t *testing.T) {
	locker := &stubLocker{failOn: "b"}
	o := buildOptions([]Option{WithKeyLocker(locker)})

	if _, err := o.lock(context.Background(), "a", "b", "c"); err == nil {
		t.Fatalf("expected lock error")
	}
	if !slices.Equal(locker.released, []string{"a"}) {
		t.Fatalf("expected a to be released, got %v", locker.released)
	}
}

func TestOptions_Defaults(t *testing.T) {
	o := buildOptions(nil)

	release, err := o.lock(context.Background(), "anything")
	if err != nil {
		t.Fatalf("lock without locker: %v", err)
	}
	release()
	o.audit(domain.AuditEvent{Action: domain.AuditLoginFailed})

	if time.Since(o.now()) > time.Minute {
		t.Fatalf("default clock should be wall time")
	}
}

func TestOptions_AuditStampsTimestamp(t *testing.T) {
	auditor := &recordingAuditor{}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := buildOptions([]Option{WithAuditor(auditor), WithClock(func() time.Time { return at })})

	o.audit(domain.AuditEvent{Action: domain.AuditRoleCreated, Subject: "Editor"})

	if len(auditor.events) != 1 || !auditor.events[0].Timestamp.Equal(at) {
		t.Fatalf("unexpected events: %+v", auditor.events)
	}
}

func TestNewID_SortsByTime(t *testing.T) {
	a := newID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := newID(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if len(a) != 26 || a >= b {
		t.Fatalf("expected sortable ULIDs, got %s and %s", a, b)
	}
}
