package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)

	if got, want := s.nextTick(now), time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next tick = %s, want %s", got, want)
	}
	exact := time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)
	if got, want := s.nextTick(exact), exact.Add(time.Minute); !got.Equal(want) {
		t.Fatalf("next tick on boundary = %s, want %s", got, want)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 30 * time.Second}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 0, 7, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("unexpected next tick %s", got)
	}
	if got := s.bucketStart(now); !got.Equal(now) {
		t.Fatalf("bucket should equal tick time when unaligned, got %s", got)
	}
}

func TestRunOnStartAndErrorsDoNotStopLoop(t *testing.T) {
	s := New(Options{Name: "test", Interval: 10 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("tick failed")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", calls.Load())
	}
}

func TestRunOnStartFiresImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{})
	go func() {
		_ = s.Run(ctx, func(context.Context, time.Time) error {
			close(fired)
			return nil
		})
	}()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("run-on-start tick did not fire")
	}
	cancel()
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
