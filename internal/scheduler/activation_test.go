package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestActivateCommitsOnSuccess(t *testing.T) {
	attached := ""
	a := NewActivator(func(ctx context.Context, id string) error {
		attached = id
		return nil
	}, nil)

	reentered, err := a.Activate(context.Background(), "s1", false, nil)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if reentered {
		t.Fatal("first activation should not report reentered")
	}
	if a.ActiveID() != "s1" {
		t.Fatalf("ActiveID() = %q, want s1", a.ActiveID())
	}
	if attached != "s1" {
		t.Fatalf("attach called with %q, want s1", attached)
	}
}

func TestActivateSameIDAlreadyInPaneIsNoop(t *testing.T) {
	calls := 0
	a := NewActivator(func(ctx context.Context, id string) error { calls++; return nil }, nil)
	if _, err := a.Activate(context.Background(), "s1", false, nil); err != nil {
		t.Fatal(err)
	}
	reentered, err := a.Activate(context.Background(), "s1", true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reentered {
		t.Fatal("already-in-pane re-activation should report no re-enter needed")
	}
	if calls != 1 {
		t.Fatalf("attach called %d times, want 1 (no-op on same active id)", calls)
	}
}

func TestActivateSameIDElsewhereReenters(t *testing.T) {
	a := NewActivator(func(ctx context.Context, id string) error { return nil }, nil)
	if _, err := a.Activate(context.Background(), "s1", false, nil); err != nil {
		t.Fatal(err)
	}
	reentered, err := a.Activate(context.Background(), "s1", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reentered {
		t.Fatal("expected reentered=true when pane was elsewhere")
	}
}

func TestActivateDetachesPreviousActive(t *testing.T) {
	var detachedID string
	a := NewActivator(
		func(ctx context.Context, id string) error { return nil },
		func(id string) { detachedID = id },
	)
	if _, err := a.Activate(context.Background(), "s1", false, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Activate(context.Background(), "s2", false, nil); err != nil {
		t.Fatal(err)
	}
	if detachedID != "s1" {
		t.Fatalf("detached = %q, want s1", detachedID)
	}
	if a.ActiveID() != "s2" {
		t.Fatalf("ActiveID() = %q, want s2", a.ActiveID())
	}
}

func TestActivateRetriesOnceAfterSessionNotFound(t *testing.T) {
	attempts := 0
	recreated := false
	a := NewActivator(func(ctx context.Context, id string) error {
		attempts++
		if attempts == 1 {
			return ErrSessionNotFound
		}
		return nil
	}, nil)

	_, err := a.Activate(context.Background(), "s1", false, func(ctx context.Context, id string) error {
		recreated = true
		return nil
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !recreated {
		t.Fatal("expected recreate to be called after SessionNotFound")
	}
	if attempts != 2 {
		t.Fatalf("attach called %d times, want 2", attempts)
	}
	if a.ActiveID() != "s1" {
		t.Fatal("expected commit after successful retry")
	}
}

func TestActivatePropagatesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	a := NewActivator(func(ctx context.Context, id string) error { return boom }, nil)
	_, err := a.Activate(context.Background(), "s1", false, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if a.ActiveID() != "" {
		t.Fatal("failed activation must not commit")
	}
}

func TestActivateAbortLeavesPreviousActiveIntact(t *testing.T) {
	blockCh := make(chan struct{})
	slow := NewActivator(func(ctx context.Context, id string) error {
		if id == "s2" {
			<-blockCh
		}
		return nil
	}, nil)
	if _, err := slow.Activate(context.Background(), "s1", false, nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := slow.Activate(ctx, "s2", false, nil)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	close(blockCh)

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if slow.ActiveID() != "s1" {
		t.Fatalf("ActiveID() = %q, want s1 (commit must not have happened)", slow.ActiveID())
	}
}

func TestMarkUnavailableClearsActiveAndPropagates(t *testing.T) {
	a := NewActivator(func(ctx context.Context, id string) error { return nil }, nil)
	if _, err := a.Activate(context.Background(), "s1", false, nil); err != nil {
		t.Fatal(err)
	}
	err := a.MarkUnavailable("s1")
	if !errors.Is(err, ErrSessionNotLive) {
		t.Fatalf("expected ErrSessionNotLive, got %v", err)
	}
	if a.ActiveID() != "" {
		t.Fatal("expected active id cleared")
	}
}
