package cetty

import (
	"context"
	"testing"
	"time"

	"cetty/errors"
)

func TestListenerAddedAfterSuccessRunsSynchronously(t *testing.T) {
	f := NewFuture(nil)
	f.SetSuccess()
	called := false
	f.AddListener(func(*Future) { called = true })
	if !called {
		t.Fatal("listener on a completed future did not run before AddListener returned")
	}

	ch, err := NewEmbeddedChannel()
	if err != nil {
		t.Fatal(err)
	}
	called = false
	NewSucceededFuture(ch).AddListener(func(*Future) { called = true })
	if !called {
		t.Fatal("listener on a succeeded channel future did not run synchronously")
	}
}

func TestFirstCompletionWins(t *testing.T) {
	f := NewFuture(nil)
	if !f.SetFailure(errors.ErrConnectTimeout) {
		t.Fatal("first SetFailure returned false")
	}
	if f.SetSuccess() || f.Cancel() || f.SetFailure(errors.ErrClose) {
		t.Error("a completed future accepted another outcome")
	}
	if f.IsSuccess() || !f.IsDone() {
		t.Errorf("unexpected state %v", f)
	}
	if !errors.Is(f.Cause(), errors.ErrConnectTimeout) {
		t.Errorf("cause %v", f.Cause())
	}
}

func TestListenersRunByPriority(t *testing.T) {
	f := NewFuture(nil)
	var order []string
	f.AddListener(func(*Future) { order = append(order, "b") })
	f.AddListenerWithPriority(func(*Future) { order = append(order, "a") }, 10)
	f.AddListener(func(*Future) { order = append(order, "c") })
	f.AddListenerWithPriority(func(*Future) { order = append(order, "d") }, -1)
	f.SetSuccess()
	if got := len(order); got != 4 {
		t.Fatalf("ran %d listeners", got)
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if order[i] != want {
			t.Fatalf("order %v", order)
		}
	}
}

func TestCancelledFuture(t *testing.T) {
	f := NewFuture(nil)
	if !f.Cancel() {
		t.Fatal("Cancel returned false")
	}
	if !f.IsCancelled() || f.IsSuccess() {
		t.Errorf("unexpected state %v", f)
	}
	if !errors.Is(f.Cause(), errors.ErrCancelled) {
		t.Errorf("cause %v", f.Cause())
	}
}

func TestAwaitInterrupted(t *testing.T) {
	f := NewFuture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.Await(ctx); !errors.Is(err, errors.ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected ErrInterrupted wrapping context.Canceled, got %v", err)
	}
	if f.AwaitTimeout(time.Millisecond) {
		t.Error("AwaitTimeout on a pending future returned true")
	}
	go f.SetSuccess()
	if err := f.Sync(); err != nil {
		t.Errorf("Sync: %v", err)
	}
}

func TestProgressListeners(t *testing.T) {
	f := NewFuture(nil)
	var got []int64
	f.AddProgressListener(func(_ *Future, progress, total int64) { got = append(got, progress, total) })
	if !f.SetProgress(5, 10) {
		t.Fatal("SetProgress on a pending future returned false")
	}
	f.SetSuccess()
	if f.SetProgress(10, 10) {
		t.Error("SetProgress on a completed future returned true")
	}
	if len(got) != 2 || got[0] != 5 || got[1] != 10 {
		t.Errorf("progress %v", got)
	}
}

type exceptionRecorder struct {
	InboundHandlerAdapter
	errs []error
}

func (r *exceptionRecorder) ExceptionCaught(_ *HandlerContext, err error) { r.errs = append(r.errs, err) }

func TestVoidFuture(t *testing.T) {
	rec := new(exceptionRecorder)
	ch, err := NewEmbeddedChannel(rec)
	if err != nil {
		t.Fatal(err)
	}
	f := ch.Pipeline().First().VoidFuture()
	if f.SetSuccess() || f.SetFailure(errors.ErrClose) {
		t.Error("a void future accepted an outcome")
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], errors.ErrClose) {
		t.Errorf("failure of a void future not fired as an exception: %v", rec.errs)
	}
	defer func() {
		if r := recover(); r != errors.ErrVoidFuture {
			t.Errorf("expected panic with ErrVoidFuture, got %v", r)
		}
	}()
	f.AddListener(func(*Future) {})
}
