package meshnet

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestFutureTaskManager_RunsPushedTasks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewFutureTaskManager(4, logger)
	go m.Run()
	defer m.Shutdown()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ran int

	for i := 0; i < 3; i++ {
		wg.Add(1)
		m.Push(func() {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed tasks to run")
	}

	mu.Lock()
	defer mu.Unlock()
	if ran != 3 {
		t.Fatalf("ran = %d, want 3", ran)
	}
}

func TestFutureTaskManager_PushAfterShutdownIsNoOp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewFutureTaskManager(1, logger)
	m.Shutdown()

	done := make(chan struct{})
	go func() {
		m.Push(func() { t.Error("task should never run after Shutdown") })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push() blocked after Shutdown()")
	}
}
