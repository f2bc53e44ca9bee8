//go:build linux

package netpoll

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"cetty/errors"
)

func TestPollerRunsTriggeredTasks(t *testing.T) {
	p, err := OpenPoller()
	if err != nil {
		t.Fatalf("Failed to open poller: %v", err)
	}
	defer p.Close()

	var ran []int
	done := make(chan error, 1)
	go func() {
		done <- p.Polling(func(fd int, ev uint32) error { return nil }, func() int { return -1 })
	}()
	for i := 0; i < 10; i++ {
		i := i
		if err := p.Trigger(func() error { ran = append(ran, i); return nil }); err != nil {
			t.Fatalf("Trigger: %v", err)
		}
	}
	_ = p.Trigger(func() error { return errors.ErrLoopShutdown })

	select {
	case err := <-done:
		if err != errors.ErrLoopShutdown {
			t.Fatalf("Expected ErrLoopShutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Polling did not return")
	}
	if len(ran) != 10 {
		t.Fatalf("Expected 10 tasks, ran %d", len(ran))
	}
	for i, v := range ran {
		if v != i {
			t.Fatalf("Tasks ran out of order: %v", ran)
		}
	}
}

func TestPollerDeliversReadEvents(t *testing.T) {
	p, err := OpenPoller()
	if err != nil {
		t.Fatalf("Failed to open poller: %v", err)
	}
	defer p.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	if err = p.AddRead(fds[0]); err != nil {
		t.Fatalf("AddRead: %v", err)
	}
	if _, err = unix.Write(fds[1], []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var timerCalls int
	err = p.Polling(func(fd int, ev uint32) error {
		if fd != fds[0] || ev&InEvents == 0 {
			t.Errorf("Unexpected event %#x on fd %d", ev, fd)
		}
		buf := make([]byte, 8)
		n, _ := unix.Read(fd, buf)
		if string(buf[:n]) != "ping" {
			t.Errorf("Expected ping, got %q", buf[:n])
		}
		return errors.ErrLoopShutdown
	}, func() int { timerCalls++; return 1000 })
	if err != errors.ErrLoopShutdown {
		t.Fatalf("Expected ErrLoopShutdown, got %v", err)
	}
	if timerCalls == 0 {
		t.Error("Expected timer hook to run before waiting")
	}
}
