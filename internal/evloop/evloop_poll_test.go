//go:build linux

package evloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// recordingHandler counts notify/data callbacks and stops the loop
// (via ctx cancellation from the test) once expected counts are seen.
type recordingHandler struct {
	notifies int32
	data     int32
	cancel   context.CancelFunc
}

func (h *recordingHandler) OnNotify() error {
	atomic.AddInt32(&h.notifies, 1)
	var buf [8]byte
	unix.Read(notifyReadFDForTest, buf[:])
	if atomic.LoadInt32(&h.notifies) >= 1 {
		h.cancel()
	}
	return nil
}
func (h *recordingHandler) OnData() error     { atomic.AddInt32(&h.data, 1); return nil }
func (h *recordingHandler) OnWritable() error { return nil }
func (h *recordingHandler) WantWrite() bool   { return false }

var notifyReadFDForTest int

func TestPollLoopDispatchesNotifyEvents(t *testing.T) {
	notifyPair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	dataPair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer unix.Close(notifyPair[0])
	defer unix.Close(notifyPair[1])
	defer unix.Close(dataPair[0])
	defer unix.Close(dataPair[1])

	notifyReadFDForTest = notifyPair[0]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h := &recordingHandler{cancel: cancel}
	loop, err := New(Config{
		NotifyFD: notifyPair[0],
		DataFD:   dataPair[0],
		Handler:  h,
		Timeout:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	if _, err := unix.Write(notifyPair[1], []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not observe the notify event in time")
	}

	if atomic.LoadInt32(&h.notifies) == 0 {
		t.Fatalf("expected at least one notify callback")
	}
}

func TestConfigValidateRejectsMissingFields(t *testing.T) {
	cfg := Config{NotifyFD: -1, DataFD: 1, Handler: &recordingHandler{}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for a missing NotifyFD")
	}

	cfg = Config{NotifyFD: 1, DataFD: 1, Handler: nil}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for a missing Handler")
	}

	cfg = Config{NotifyFD: 1, DataFD: 2, Handler: &recordingHandler{}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a valid config to pass, got %v", err)
	}
	if cfg.Timeout != defaultPollTimeout {
		t.Fatalf("expected the default timeout to be filled in, got %v", cfg.Timeout)
	}
}
