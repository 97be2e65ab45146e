package sync

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	limiter := NewLimiter(5)
	for i := 1; i < 20; i++ {
		limiter.Acquire()
		fmt.Println(i)
		go func(i int) {
			time.Sleep(time.Second * time.Duration(i))
			limiter.Release()
		}(i)
	}
}

func TestLimiter_TryAcquire(t *testing.T) {
	limiter := NewLimiter(1)
	if !limiter.TryAcquire() {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if limiter.TryAcquire() {
		t.Fatal("expected second TryAcquire to fail while slot is held")
	}
	limiter.Release()
	if !limiter.TryAcquire() {
		t.Fatal("expected TryAcquire to succeed after release")
	}
}

func TestLimiter_AcquireContext(t *testing.T) {
	limiter := NewLimiter(1)
	limiter.Acquire()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.AcquireContext(ctx); err == nil {
		t.Fatal("expected AcquireContext to time out while slot is held")
	}

	limiter.Release()
	if err := limiter.AcquireContext(context.Background()); err != nil {
		t.Fatalf("expected AcquireContext to succeed after release, got %v", err)
	}
}
