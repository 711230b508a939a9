package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsTasksInOrderOnOneWorker(t *testing.T) {
	p := New(1, nil)
	var mu sync.Mutex
	var got []int
	for i := 0; i < 5; i++ {
		if err := p.Submit("task", func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, i)
			return nil
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	p.Start(context.Background())
	defer p.Stop()
	p.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
}

func TestPool_WaitCoversChainedTasks(t *testing.T) {
	p := New(2, nil)
	p.Start(context.Background())
	defer p.Stop()

	var steps atomic.Int32
	var step Task
	step = func(context.Context) error {
		if steps.Add(1) < 4 {
			return p.Submit("next", step)
		}
		return nil
	}
	if err := p.Submit("first", step); err != nil {
		t.Fatal(err)
	}
	p.Wait()
	if steps.Load() != 4 {
		t.Errorf("steps = %d, want 4", steps.Load())
	}
}

func TestPool_SurvivesPanicsAndErrors(t *testing.T) {
	p := New(1, nil)
	p.Start(context.Background())
	defer p.Stop()

	var ran atomic.Bool
	_ = p.Submit("panics", func(context.Context) error { panic("boom") })
	_ = p.Submit("fails", func(context.Context) error { return errors.New("nope") })
	_ = p.Submit("works", func(context.Context) error { ran.Store(true); return nil })
	p.Wait()

	if !ran.Load() {
		t.Error("task after a panic did not run")
	}
}

func TestPool_SubmitAfter(t *testing.T) {
	p := New(1, nil)
	p.Start(context.Background())
	defer p.Stop()

	done := make(chan time.Time, 1)
	start := time.Now()
	if err := p.SubmitAfter(50*time.Millisecond, "later", func(context.Context) error {
		done <- time.Now()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, scheduled := p.Len(); scheduled != 1 {
		t.Errorf("scheduled = %d, want 1", scheduled)
	}

	select {
	case at := <-done:
		if at.Sub(start) < 50*time.Millisecond {
			t.Errorf("ran after %v", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestPool_StopCancelsScheduledAndRejects(t *testing.T) {
	p := New(1, nil)
	p.Start(context.Background())

	var ran atomic.Bool
	_ = p.SubmitAfter(20*time.Millisecond, "later", func(context.Context) error { ran.Store(true); return nil })
	p.Stop()

	if err := p.Submit("late", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Stop = %v, want ErrClosed", err)
	}
	time.Sleep(60 * time.Millisecond)
	if ran.Load() {
		t.Error("scheduled task ran after Stop")
	}
	p.Wait()
}

func TestPool_StopCancelsRunningTaskContext(t *testing.T) {
	p := New(1, nil)
	p.Start(context.Background())

	started := make(chan struct{})
	var canceled atomic.Bool
	_ = p.Submit("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	})
	<-started
	p.Stop()
	if !canceled.Load() {
		t.Error("running task was not canceled")
	}
}
