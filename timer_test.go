package cetty

import (
	"testing"
	"time"
)

func newTestEmbeddedLoop(now *time.Time) *EmbeddedEventLoop {
	el := NewEmbeddedEventLoop()
	el.now = func() time.Time { return *now }
	return el
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	now := time.Unix(1000, 0)
	el := newTestEmbeddedLoop(&now)
	var fired []int
	el.RunAfter(30*time.Millisecond, func() { fired = append(fired, 3) })
	el.RunAfter(10*time.Millisecond, func() { fired = append(fired, 1) })
	el.RunAfter(20*time.Millisecond, func() { fired = append(fired, 2) })
	el.RunAfter(20*time.Millisecond, func() { fired = append(fired, 22) })

	if d := el.RunScheduledTasks(); d != 10*time.Millisecond {
		t.Errorf("expected 10ms until the first timer, got %v", d)
	}
	now = now.Add(25 * time.Millisecond)
	el.RunScheduledTasks()
	now = now.Add(time.Second)
	if d := el.RunScheduledTasks(); d != -1 {
		t.Errorf("expected no timer left, got %v", d)
	}
	want := []int{1, 2, 22, 3}
	if len(fired) != len(want) {
		t.Fatalf("fired %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired %v, want %v", fired, want)
		}
	}
}

func TestTimeoutCancelledBeforeDeadlineNeverRuns(t *testing.T) {
	now := time.Unix(1000, 0)
	el := newTestEmbeddedLoop(&now)
	ran := false
	to := el.RunAfter(time.Millisecond, func() { ran = true })
	if to.State() != TimeoutActive {
		t.Fatalf("expected active timer, got %v", to.State())
	}
	if !to.Cancel() {
		t.Fatal("Cancel on an active timer returned false")
	}
	if to.Cancel() {
		t.Error("second Cancel returned true")
	}
	now = now.Add(time.Hour)
	el.RunScheduledTasks()
	if ran {
		t.Error("cancelled task ran")
	}
	if !to.IsCancelled() || to.IsExpired() {
		t.Errorf("unexpected state %v", to.State())
	}
}

func TestRunEveryRepeatsUntilCancelled(t *testing.T) {
	now := time.Unix(1000, 0)
	el := newTestEmbeddedLoop(&now)
	n := 0
	var to *Timeout
	to = el.RunEvery(10*time.Millisecond, func() {
		n++
		if n == 3 {
			to.Cancel()
		}
	})
	for i := 0; i < 10; i++ {
		now = now.Add(10 * time.Millisecond)
		el.RunScheduledTasks()
	}
	if n != 3 {
		t.Errorf("expected 3 runs, got %d", n)
	}
	if to.IsExpired() {
		t.Error("a periodic timer never expires")
	}
}

func TestOneShotTimerExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	el := newTestEmbeddedLoop(&now)
	to := el.RunAt(now.Add(time.Second), func() {})
	now = now.Add(time.Second)
	el.RunScheduledTasks()
	if !to.IsExpired() {
		t.Errorf("expected expired, got %v", to.State())
	}
	if to.Cancel() {
		t.Error("Cancel after expiry returned true")
	}
}

func TestStoppedLoopCancelsTimers(t *testing.T) {
	now := time.Unix(1000, 0)
	el := newTestEmbeddedLoop(&now)
	to := el.RunAfter(time.Second, func() { t.Error("timer ran after Stop") })
	_ = el.Stop()
	if !to.IsCancelled() {
		t.Errorf("expected cancelled, got %v", to.State())
	}
	if late := el.RunAfter(0, func() {}); !late.IsCancelled() {
		t.Error("timer scheduled on a stopped loop is not cancelled")
	}
	select {
	case <-el.Done():
	default:
		t.Error("Done not closed after Stop")
	}
}

func TestDelayToMillisRoundsUp(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{-1, -1},
		{0, 0},
		{time.Microsecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
	}
	for _, c := range cases {
		if got := delayToMillis(c.d); got != c.want {
			t.Errorf("delayToMillis(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}
