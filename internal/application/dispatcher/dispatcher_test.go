package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/xpensure/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "reimbursement", 1, "m1", time.Now())
}

func TestDispatch_RunsHandlersInOrder(t *testing.T) {
	d := NewDispatcher()
	var calls []string

	d.Subscribe(event.TypeRequestApproved, "first", func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "first")
		return nil
	})
	d.Subscribe(event.TypeRequestApproved, "second", func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(event.TypeRequestRejected, "other", func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "other")
		return nil
	})

	if err := d.Dispatch(context.Background(), newEvent(event.TypeRequestApproved)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("calls = %v, want [first second]", calls)
	}
}

func TestDispatch_FailingHandlerDoesNotStopOthers(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	boom := errors.New("boom")
	ran := false

	d.Subscribe(event.TypeRequestPaid, "failing", func(ctx context.Context, evt *event.Event) error {
		return boom
	})
	d.Subscribe(event.TypeRequestPaid, "panicking", func(ctx context.Context, evt *event.Event) error {
		panic("kaboom")
	})
	d.Subscribe(event.TypeRequestPaid, "ok", func(ctx context.Context, evt *event.Event) error {
		ran = true
		return nil
	})

	err := d.Dispatch(context.Background(), newEvent(event.TypeRequestPaid))
	if !errors.Is(err, boom) {
		t.Errorf("Dispatch() error = %v, want to wrap boom", err)
	}
	if !ran {
		t.Error("handler after a failing one did not run")
	}
	if len(logger.errors) != 2 {
		t.Errorf("logged %d errors, want 2", len(logger.errors))
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe(event.TypeRequestSubmitted, "a", func(context.Context, *event.Event) error { return nil })
	d.Subscribe(event.TypeRequestSubmitted, "b", func(context.Context, *event.Event) error { return nil })

	d.Unsubscribe(event.TypeRequestSubmitted, "a")

	handlers := d.ListHandlers(event.TypeRequestSubmitted)
	if len(handlers) != 1 || handlers[0].Name != "b" {
		t.Errorf("ListHandlers() = %+v, want only b", handlers)
	}
	if handlers[0].Handler != nil {
		t.Error("ListHandlers() must not expose handler funcs")
	}
}

func TestClose(t *testing.T) {
	d := NewDispatcher()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(); err == nil {
		t.Error("second Close() should fail")
	}
	if err := d.Dispatch(context.Background(), newEvent(event.TypeRequestSubmitted)); !errors.Is(err, ErrClosed) {
		t.Errorf("Dispatch() after Close error = %v, want ErrClosed", err)
	}
}

func TestSubscribe_SameNameReplaces(t *testing.T) {
	d := NewDispatcher()
	var got string
	d.Subscribe(event.TypeRequestForwarded, "notify", func(context.Context, *event.Event) error {
		got = "old"
		return nil
	})
	d.Subscribe(event.TypeRequestForwarded, "notify", func(context.Context, *event.Event) error {
		got = "new"
		return nil
	})

	if n := len(d.ListHandlers(event.TypeRequestForwarded)); n != 1 {
		t.Fatalf("ListHandlers() len = %d, want 1", n)
	}
	if err := d.Dispatch(context.Background(), newEvent(event.TypeRequestForwarded)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got != "new" {
		t.Errorf("handler = %q, want new", got)
	}
}

func TestStats(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe(event.TypeRequestAdvanced, "ok", func(context.Context, *event.Event) error { return nil })
	d.Subscribe(event.TypeRequestAdvanced, "bad", func(context.Context, *event.Event) error {
		return errors.New("smtp down")
	})

	_ = d.Dispatch(context.Background(), newEvent(event.TypeRequestAdvanced))
	_ = d.Dispatch(context.Background(), newEvent(event.TypeRequestAdvanced))

	stats := d.Stats()
	if stats.Delivered != 2 || stats.Failed != 2 {
		t.Errorf("Stats() = %+v, want 2 delivered and 2 failed", stats)
	}
	if err := d.Dispatch(context.Background(), nil); err == nil {
		t.Error("Dispatch(nil) should fail")
	}
}
