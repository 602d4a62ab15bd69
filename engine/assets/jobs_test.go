package assets

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewJobSystemRejectsBadSizes(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("zero workers: got %v", err)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Fatalf("negative channel: got %v", err)
	}
}

// waitUpdate calls Update until want completions ran or the deadline passes.
func waitUpdate(t *testing.T, js *JobSystem, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	got := 0
	for got < want {
		if time.Now().After(deadline) {
			t.Fatalf("ran %d completions, want %d", got, want)
		}
		got += js.Update()
		time.Sleep(time.Millisecond)
	}
}

func TestJobCompletionsRunOnUpdate(t *testing.T) {
	js, err := NewJobSystem(2, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer js.Shutdown()

	var ran atomic.Int32
	results := map[string]any{}
	var failed error
	for _, name := range []string{"a", "b"} {
		name := name
		err := js.Submit(Job{
			Name: name,
			Run: func() (any, error) {
				ran.Add(1)
				return name + "!", nil
			},
			Done: func(res any, err error) { results[name] = res },
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	boom := errors.New("boom")
	if err := js.Go("fails", func() (any, error) { return nil, boom }, func(_ any, err error) { failed = err }); err != nil {
		t.Fatal(err)
	}

	waitUpdate(t, js, 3)
	if ran.Load() != 2 {
		t.Fatalf("ran = %d, want 2", ran.Load())
	}
	if results["a"] != "a!" || results["b"] != "b!" {
		t.Fatalf("results = %v", results)
	}
	if !errors.Is(failed, boom) {
		t.Fatalf("failure = %v, want boom", failed)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := js.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := js.Submit(Job{Name: "late", Run: func() (any, error) { return nil, nil }}); err == nil {
		t.Fatal("submit after shutdown succeeded")
	}
}
