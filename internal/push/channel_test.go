package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/pageflow/internal/notify"
	"github.com/user/pageflow/internal/task"
	"github.com/user/pageflow/internal/types"
)

func fastPolicy() Policy {
	return Policy{Base: time.Millisecond, Cap: 4 * time.Millisecond, MaxAttempts: 3}
}

// pipeDialer hands each dial a fresh io.Pipe and exposes the writer side to
// the test.
type pipeDialer struct {
	dials   atomic.Int32
	writers chan *io.PipeWriter
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{writers: make(chan *io.PipeWriter, 8)}
}

func (d *pipeDialer) dial(ctx context.Context) (io.ReadCloser, error) {
	d.dials.Add(1)
	r, w := io.Pipe()
	d.writers <- w
	return r, nil
}

func (d *pipeDialer) writer(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case w := <-d.writers:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("channel never dialed")
		return nil
	}
}

func send(t *testing.T, w *io.PipeWriter, frame string) {
	t.Helper()
	if _, err := io.WriteString(w, "data: "+frame+"\n\n"); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestChannelConnectsAndDispatchesNotifications(t *testing.T) {
	dialer := newPipeDialer()
	store := notify.NewStore()

	var alerts atomic.Int32
	var states []State
	var statesMu sync.Mutex
	ch := NewChannel(dialer.dial, fastPolicy(), 0,
		WithNotifications(store),
		WithAlert(func(types.Notification) { alerts.Add(1) }),
		WithStateChange(func(s State) {
			statesMu.Lock()
			states = append(states, s)
			statesMu.Unlock()
		}),
	)
	ch.Start(context.Background())
	defer ch.Stop()

	w := dialer.writer(t)
	send(t, w, `{"type":"connected"}`)
	waitFor(t, func() bool { return ch.State() == StateConnected }, "never reached connected")

	send(t, w, `{"type":"notification","notification":{"eventId":"e1","title":"page ready","serviceType":"page_generation"}}`)
	waitFor(t, func() bool { return len(store.List()) == 1 }, "notification never inserted")

	// Duplicate delivery (at-least-once transport) stays a single entry.
	send(t, w, `{"type":"notification","notification":{"eventId":"e1","title":"page ready","serviceType":"page_generation"}}`)
	waitFor(t, func() bool { return alerts.Load() == 2 }, "alert not fired for duplicate")
	if got := len(store.List()); got != 1 {
		t.Errorf("store holds %d entries, want 1 after duplicate", got)
	}

	statesMu.Lock()
	defer statesMu.Unlock()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Errorf("state transitions = %v", states)
	}
}

func TestChannelBridgesTaskCompletion(t *testing.T) {
	dialer := newPipeDialer()
	registry := task.NewRegistry()

	var completions atomic.Int32
	results := make(chan types.GenerateResult, 1)
	job := &task.Job{ID: "t1", Deadline: time.Now().Add(time.Hour)}
	task.WithOnComplete(func(res types.GenerateResult) {
		completions.Add(1)
		results <- res
	})(job)
	registry.Register(job)

	fetcher := func(ctx context.Context, dataURL string) (types.GenerateResult, error) {
		if dataURL != "/results/t1" {
			return types.GenerateResult{}, fmt.Errorf("unexpected url %q", dataURL)
		}
		return types.GenerateResult{HTMLList: []string{"<p>pushed</p>"}}, nil
	}

	ch := NewChannel(dialer.dial, fastPolicy(), 0,
		WithRegistry(registry),
		WithResultFetcher(fetcher),
	)
	ch.Start(context.Background())
	defer ch.Stop()

	w := dialer.writer(t)
	send(t, w, `{"type":"connected"}`)
	send(t, w, `{"type":"notification","notification":{"eventId":"e1","taskId":"t1","dataUrl":"/results/t1"}}`)

	select {
	case res := <-results:
		if len(res.HTMLList) != 1 || res.HTMLList[0] != "<p>pushed</p>" {
			t.Errorf("result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion never bridged")
	}

	// A second event for the same task is a no-op.
	send(t, w, `{"type":"notification","notification":{"eventId":"e2","taskId":"t1","dataUrl":"/results/t1"}}`)
	time.Sleep(20 * time.Millisecond)
	if completions.Load() != 1 {
		t.Errorf("completion fired %d times, want 1", completions.Load())
	}
}

func TestChannelBridgesTaskFailure(t *testing.T) {
	dialer := newPipeDialer()
	registry := task.NewRegistry()

	errCh := make(chan error, 1)
	job := &task.Job{ID: "t2", Deadline: time.Now().Add(time.Hour)}
	task.WithOnError(func(err error) { errCh <- err })(job)
	registry.Register(job)

	ch := NewChannel(dialer.dial, fastPolicy(), 0, WithRegistry(registry))
	ch.Start(context.Background())
	defer ch.Stop()

	w := dialer.writer(t)
	send(t, w, `{"type":"connected"}`)
	send(t, w, `{"type":"notification","notification":{"eventId":"e1","taskId":"t2","severity":"error","body":"generation failed"}}`)

	select {
	case err := <-errCh:
		if !errors.Is(err, task.ErrTaskFailed) {
			t.Errorf("err = %v, want ErrTaskFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure never bridged")
	}
}

func TestChannelBackoffExhaustionAndManualReconnect(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context) (io.ReadCloser, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}

	ch := NewChannel(dial, fastPolicy(), 0)
	ch.Start(context.Background())
	defer ch.Stop()

	// Budget of 3: the channel dials three times, then parks.
	waitFor(t, func() bool { return dials.Load() == 3 }, "never spent the reconnect budget")
	time.Sleep(30 * time.Millisecond)
	if dials.Load() != 3 {
		t.Fatalf("dialed %d times after exhaustion, want still 3", dials.Load())
	}
	if ch.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", ch.State())
	}

	// The explicit manual trigger revives the loop with a fresh budget.
	ch.Reconnect()
	waitFor(t, func() bool { return dials.Load() > 3 }, "manual reconnect did not redial")
}

func TestChannelAttemptCounterResetsOnConnect(t *testing.T) {
	// Two failures, then a successful connect, then a drop: the post-drop
	// backoff must restart from the base delay, proving the counter reset.
	var dials atomic.Int32
	dialer := newPipeDialer()
	dial := func(ctx context.Context) (io.ReadCloser, error) {
		if dials.Add(1) <= 2 {
			return nil, errors.New("connection refused")
		}
		return dialer.dial(ctx)
	}

	ch := NewChannel(dial, Policy{Base: time.Millisecond, Cap: time.Minute, MaxAttempts: 4}, 0)
	ch.Start(context.Background())
	defer ch.Stop()

	w := dialer.writer(t)
	send(t, w, `{"type":"connected"}`)
	waitFor(t, func() bool { return ch.State() == StateConnected }, "never connected")

	// Drop the stream; with the counter reset, reconnection is quick and the
	// budget of 4 is not exhausted by the two earlier failures.
	w.Close()
	dialer.writer(t) // next dial happens
	waitFor(t, func() bool { return ch.State() == StateConnecting || ch.State() == StateConnected }, "no reconnect after drop")
}

func TestChannelReconnectOnCredentialRotation(t *testing.T) {
	dialer := newPipeDialer()
	ch := NewChannel(dialer.dial, fastPolicy(), 0)
	ch.Start(context.Background())
	defer ch.Stop()

	w := dialer.writer(t)
	send(t, w, `{"type":"connected"}`)
	waitFor(t, func() bool { return ch.State() == StateConnected }, "never connected")

	// Credential rotated: the session forces a reconnect so the stream is
	// re-authenticated with the new token.
	ch.Reconnect()
	w2 := dialer.writer(t)
	send(t, w2, `{"type":"connected"}`)
	waitFor(t, func() bool { return ch.State() == StateConnected && dialer.dials.Load() >= 2 }, "no redial after rotation")
}

func TestChannelWatchdogForcesReconnect(t *testing.T) {
	dialer := newPipeDialer()
	ch := NewChannel(dialer.dial, fastPolicy(), 25*time.Millisecond)
	ch.Start(context.Background())
	defer ch.Stop()

	w := dialer.writer(t)
	send(t, w, `{"type":"connected"}`)
	waitFor(t, func() bool { return ch.State() == StateConnected }, "never connected")

	// Keep-alives hold the watchdog off.
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		send(t, w, `{"type":"keepalive"}`)
	}
	if dialer.dials.Load() != 1 {
		t.Fatalf("watchdog fired despite keep-alives (%d dials)", dialer.dials.Load())
	}

	// Silence past the window kills the connection.
	waitFor(t, func() bool { return dialer.dials.Load() >= 2 }, "watchdog never forced a reconnect")
}
