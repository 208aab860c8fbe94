package cronrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/lock"
)

func TestValidateSpec(t *testing.T) {
	for _, spec := range []string{"@every 1h", "0 3 * * *", "30 0 3 * * *", "@daily"} {
		if err := ValidateSpec(spec); err != nil {
			t.Fatalf("spec %q: %v", spec, err)
		}
	}
	if err := ValidateSpec("every hour"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRunLockedSkipsWhenHeld(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewMemoryLocker()
	r := New(nil, ctx, locker, time.Minute)

	release, ok, _ := locker.TryLock(ctx, "economo:pipeline", time.Minute)
	if !ok {
		t.Fatalf("lock failed")
	}
	calls := 0
	job := func(context.Context) error { calls++; return nil }

	ran, err := r.RunLocked(ctx, "economo:pipeline", job)
	if err != nil || ran || calls != 0 {
		t.Fatalf("ran=%v calls=%d err=%v", ran, calls, err)
	}

	release()
	ran, err = r.RunLocked(ctx, "economo:pipeline", job)
	if err != nil || !ran || calls != 1 {
		t.Fatalf("ran=%v calls=%d err=%v", ran, calls, err)
	}

	// The lock is free again once the job returns.
	if _, ok, _ := locker.TryLock(ctx, "economo:pipeline", time.Minute); !ok {
		t.Fatalf("lock not released after run")
	}
}

func TestRunLockedReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	r := New(nil, nil, nil, time.Minute)
	ran, err := r.RunLocked(context.Background(), "k", func(context.Context) error { return boom })
	if !ran || !errors.Is(err, boom) {
		t.Fatalf("ran=%v err=%v", ran, err)
	}
}
