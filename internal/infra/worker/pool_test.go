//go:build !integration

package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestPool(t *testing.T) {
	t.Run("should run every submitted task and survive a panic", func(t *testing.T) {
		// --- Arrange ---
		p := NewPool(2, 16, newTestLogger())
		p.Start(context.Background())
		var ran int32

		// --- Act ---
		_ = p.Submit(func(context.Context) error { panic("boom") })
		for i := 0; i < 5; i++ {
			_ = p.Submit(func(context.Context) error { atomic.AddInt32(&ran, 1); return nil })
		}
		_ = p.Submit(func(context.Context) error { atomic.AddInt32(&ran, 1); return errors.New("fail") })
		p.Stop()

		// --- Assert ---
		if got := atomic.LoadInt32(&ran); got != 6 {
			t.Errorf("expected 6 tasks run, got %d", got)
		}
		if err := p.Submit(func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
	})

	t.Run("should report a full queue instead of blocking", func(t *testing.T) {
		// --- Arrange ---
		p := NewPool(1, 1, newTestLogger())
		// not started: nothing consumes the queue
		_ = p.Submit(func(context.Context) error { return nil })

		// --- Act ---
		err := p.Submit(func(context.Context) error { return nil })

		// --- Assert ---
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("expected ErrQueueFull, got %v", err)
		}
	})
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, to, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, to+":"+msg)
	return r.err
}

func TestAsyncNotifier(t *testing.T) {
	// --- Arrange ---
	next := &recordingNotifier{err: errors.New("chat api down")}
	p := NewPool(1, 8, newTestLogger())
	p.Start(context.Background())
	n := NewAsyncNotifier(next, p, time.Second, newTestLogger())

	// --- Act ---
	err1 := n.Notify(context.Background(), "1", "a")
	err2 := n.Notify(context.Background(), "2", "b")
	p.Stop()

	// --- Assert ---
	if err1 != nil || err2 != nil {
		t.Errorf("expected fire-and-forget nil errors, got %v %v", err1, err2)
	}
	if len(next.msgs) != 2 || next.msgs[0] != "1:a" || next.msgs[1] != "2:b" {
		t.Errorf("unexpected deliveries %v", next.msgs)
	}
	if err := n.Notify(context.Background(), "3", "c"); err != nil {
		t.Errorf("expected nil after stop, got %v", err)
	}
}
