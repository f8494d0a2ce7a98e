package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/user/pageflow/internal/notify"
	"github.com/user/pageflow/internal/task"
	"github.com/user/pageflow/internal/types"
)

// State is the connection state of the push channel, observable by the UI.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// ErrChannelUnavailable means the reconnect budget is spent; the channel
// stays down until an explicit Reconnect. The app remains usable, the
// indicator just goes passive.
var ErrChannelUnavailable = errors.New("push channel unavailable")

// DialFunc opens the event stream. The returned body is closed by the
// channel when the subscription ends.
type DialFunc func(ctx context.Context) (io.ReadCloser, error)

// ResultFetcher dereferences a notification's data URL into the completed
// task's result payload.
type ResultFetcher func(ctx context.Context, dataURL string) (types.GenerateResult, error)

// Channel is the reconnecting push subscription. Inbound frames are
// dispatched by type: connection acks flip the state, keep-alives feed the
// inactivity watchdog, and notification frames are inserted into the
// notification store, bridged into the pending-task registry, and surfaced
// as a transient alert.
type Channel struct {
	dial     DialFunc
	policy   Policy
	watchdog time.Duration

	notifications *notify.Store
	registry      *task.Registry
	fetchResult   ResultFetcher
	onAlert       func(types.Notification)
	onState       func(State)

	mu       sync.Mutex
	state    State
	failures int
	conn     io.Closer

	reconnectCh chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Option configures optional collaborators on a Channel.
type Option func(*Channel)

// WithNotifications wires the notification store frames are inserted into.
func WithNotifications(store *notify.Store) Option {
	return func(c *Channel) { c.notifications = store }
}

// WithRegistry wires the pending-task registry for completion bridging.
func WithRegistry(registry *task.Registry) Option {
	return func(c *Channel) { c.registry = registry }
}

// WithResultFetcher wires the data-URL dereference used when a completion
// notification points at its result payload.
func WithResultFetcher(fn ResultFetcher) Option {
	return func(c *Channel) { c.fetchResult = fn }
}

// WithAlert sets the transient user-visible alert callback.
func WithAlert(fn func(types.Notification)) Option {
	return func(c *Channel) { c.onAlert = fn }
}

// WithStateChange sets the connection-state observer.
func WithStateChange(fn func(State)) Option {
	return func(c *Channel) { c.onState = fn }
}

// NewChannel creates a Channel. watchdog is the inactivity window after
// which a silent connection is presumed dead and redialed; zero disables it.
func NewChannel(dial DialFunc, policy Policy, watchdog time.Duration, opts ...Option) *Channel {
	c := &Channel{
		dial:        dial,
		policy:      policy,
		watchdog:    watchdog,
		state:       StateDisconnected,
		reconnectCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the subscription loop.
func (c *Channel) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run()
}

// Stop tears the channel down and waits for the loop to exit.
func (c *Channel) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConn()
	c.wg.Wait()
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnect forces an immediate redial with a fresh attempt budget. Used
// when the credential rotates (the old stream is authenticated with a dead
// token) and as the manual trigger once the budget is exhausted.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
	c.closeConn()
}

func (c *Channel) run() {
	defer c.wg.Done()
	for {
		if c.ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		c.setState(StateConnecting)
		rc, err := c.dial(c.ctx)
		if err != nil {
			c.setState(StateDisconnected)
			slog.Debug("push dial failed", "error", err)
			if !c.backoffWait() {
				return
			}
			continue
		}

		c.setConn(rc)
		err = c.consume(rc)
		c.setConn(nil)
		rc.Close()
		c.setState(StateDisconnected)
		if c.ctx.Err() != nil {
			return
		}
		slog.Debug("push stream ended", "error", err)
		if !c.backoffWait() {
			return
		}
	}
}

// backoffWait sleeps out the next backoff delay, or parks until a manual
// reconnect once the budget is exhausted. Returns false when the channel is
// shutting down.
func (c *Channel) backoffWait() bool {
	c.mu.Lock()
	c.failures++
	failures := c.failures
	c.mu.Unlock()

	if c.policy.Exhausted(failures) {
		slog.Warn("push reconnect budget exhausted, waiting for manual reconnect",
			"failures", failures, "error", ErrChannelUnavailable)
		select {
		case <-c.reconnectCh:
			return true
		case <-c.ctx.Done():
			return false
		}
	}

	delay := c.policy.Delay(failures - 1)
	slog.Debug("push reconnect scheduled", "attempt", failures, "delay", delay)
	select {
	case <-time.After(delay):
		return true
	case <-c.reconnectCh:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// consume reads frames until the stream ends. The watchdog closes a
// connection that goes silent past the inactivity window; keep-alive frames
// exist precisely to feed it.
func (c *Channel) consume(rc io.ReadCloser) error {
	var watch *time.Timer
	if c.watchdog > 0 {
		watch = time.AfterFunc(c.watchdog, func() {
			slog.Warn("push stream inactive, forcing reconnect", "window", c.watchdog)
			rc.Close()
		})
		defer watch.Stop()
	}
	return readFrames(rc, func(frame Frame) {
		if watch != nil {
			watch.Reset(c.watchdog)
		}
		c.dispatch(frame)
	})
}

func (c *Channel) dispatch(frame Frame) {
	switch frame.Type {
	case "connected":
		slog.Info("push channel established")
		c.mu.Lock()
		c.failures = 0
		c.mu.Unlock()
		c.setState(StateConnected)
	case "keepalive":
		// Watchdog already reset; no state change.
	case "error":
		slog.Warn("push server error frame", "message", frame.Message)
	case "notification":
		if frame.Notification == nil {
			slog.Warn("notification frame without payload")
			return
		}
		c.handleNotification(*frame.Notification)
	default:
		slog.Debug("unknown push frame type", "type", frame.Type)
	}
}

func (c *Channel) handleNotification(n types.Notification) {
	if n.EventID == "" {
		// Without a server id the event cannot be de-duplicated; mint one
		// so it is at least displayable.
		n.EventID = types.NewEventID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Status == "" {
		n.Status = types.NotificationUnread
	}

	if c.notifications != nil {
		c.notifications.Insert(n)
	}
	if c.registry != nil && n.TaskID != "" {
		c.bridge(n)
	}
	if c.onAlert != nil {
		c.onAlert(n)
	}
}

// bridge satisfies a pending task's completion from the push side. The
// orchestrator's poller may be racing; the registry's single-shot settle
// makes whichever signal lands second a no-op.
func (c *Channel) bridge(n types.Notification) {
	if _, ok := c.registry.Get(n.TaskID); !ok {
		return
	}
	if n.Severity == "error" {
		c.registry.Fail(n.TaskID, fmt.Errorf("%w: %s", task.ErrTaskFailed, n.Body))
		return
	}
	var result types.GenerateResult
	if n.DataURL != "" && c.fetchResult != nil {
		res, err := c.fetchResult(c.ctx, n.DataURL)
		if err != nil {
			slog.Warn("failed to fetch task result", "task_id", string(n.TaskID), "error", err)
		} else {
			result = res
		}
	}
	if c.registry.Complete(n.TaskID, result) {
		slog.Info("task completed via push", "task_id", string(n.TaskID))
	}
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(state)
	}
}

func (c *Channel) setConn(conn io.Closer) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
