package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestImportLimiter_AcquireRelease(t *testing.T) {
	l := NewImportLimiter(2, time.Second)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire error = %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire error = %v", err)
	}
	if got := l.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}

	l.Release()
	if got := l.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d after release, want 1", got)
	}

	if err := l.Acquire(ctx); err != nil {
		t.Errorf("Acquire after release error = %v", err)
	}
	l.Release()
	l.Release()
}

func TestImportLimiter_RejectsWhenFull(t *testing.T) {
	l := NewImportLimiter(1, 20*time.Millisecond)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	err := l.Acquire(ctx)
	if !errors.Is(err, ErrTooManyImports) {
		t.Errorf("Acquire on full limiter = %v, want ErrTooManyImports", err)
	}
}

func TestImportLimiter_ContextCancellation(t *testing.T) {
	l := NewImportLimiter(1, time.Minute)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := l.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire with cancelled context = %v, want context.Canceled", err)
	}
}

func TestImportLimiter_WaitForDrain(t *testing.T) {
	l := NewImportLimiter(1, time.Second)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain error = %v", err)
	}
}
