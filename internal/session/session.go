// Package session owns the client's shared mutable state for one
// authenticated session: credential store, refresh coordinator, pipeline,
// orchestrator, push channel, and notification state, constructed once and
// disposed together at logout. Nothing here is a package-level global on
// purpose.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/user/pageflow/internal/auth"
	"github.com/user/pageflow/internal/config"
	"github.com/user/pageflow/internal/notify"
	"github.com/user/pageflow/internal/pipeline"
	"github.com/user/pageflow/internal/push"
	"github.com/user/pageflow/internal/task"
	"github.com/user/pageflow/internal/types"
)

// Session wires the resilience layer together.
type Session struct {
	cfg *config.Config

	Credentials   *auth.Store
	Coordinator   *auth.Coordinator
	Pipeline      *pipeline.Pipeline
	Registry      *task.Registry
	Orchestrator  *task.Orchestrator
	Notifications *notify.Store
	NotifyClient  *notify.Client
	Channel       *push.Channel

	onExpired func()

	mu             sync.Mutex
	ctx            context.Context
	channelRunning bool

	teardownOnce sync.Once
}

// Option configures a Session.
type Option func(*sessionHooks)

type sessionHooks struct {
	onExpired func()
	onAlert   func(types.Notification)
	onState   func(push.State)
}

// WithOnExpired sets the side effect for terminal session expiry (the UI's
// redirect-to-login). Fired at most once.
func WithOnExpired(fn func()) Option {
	return func(h *sessionHooks) { h.onExpired = fn }
}

// WithAlert sets the transient notification alert callback.
func WithAlert(fn func(types.Notification)) Option {
	return func(h *sessionHooks) { h.onAlert = fn }
}

// WithStateChange sets the push connection-state observer.
func WithStateChange(fn func(push.State)) Option {
	return func(h *sessionHooks) { h.onState = fn }
}

// New constructs a Session from config, bootstrapping any persisted
// credential.
func New(cfg *config.Config, opts ...Option) *Session {
	hooks := sessionHooks{}
	for _, opt := range opts {
		opt(&hooks)
	}

	credStore := auth.NewStore(filepath.Join(cfg.DataDir, "credentials.json"))
	if err := credStore.Load(); err != nil {
		slog.Warn("failed to load persisted credential", "error", err)
	}

	coord := auth.NewCoordinator(credStore, pipeline.NewRefreshFunc(cfg.BaseURL), cfg.RefreshSkew())
	pipe := pipeline.New(cfg.BaseURL, credStore, coord)
	registry := task.NewRegistry()
	orch := task.New(pipe, registry, task.Options{
		PollInterval:  cfg.PollInterval(),
		WaitTimeout:   cfg.WaitTimeout(),
		AutoThreshold: cfg.AutoThreshold(),
		AbandonAfter:  cfg.AbandonAfter(),
	})
	notifStore := notify.NewStore()
	notifClient := notify.NewClient(pipe, notifStore, credStore.SubjectID)

	dial := func(ctx context.Context) (io.ReadCloser, error) {
		sid, ok := credStore.SubjectID()
		if !ok {
			return nil, auth.ErrNoCredential
		}
		return pipe.Stream(ctx, "/notifications/stream/"+string(sid))
	}
	fetchResult := func(ctx context.Context, dataURL string) (types.GenerateResult, error) {
		var result types.GenerateResult
		if _, err := pipe.Do(ctx, http.MethodGet, dataURL, nil, &result, pipeline.WithSubjectHeader()); err != nil {
			return types.GenerateResult{}, err
		}
		return result, nil
	}

	channelOpts := []push.Option{
		push.WithNotifications(notifStore),
		push.WithRegistry(registry),
		push.WithResultFetcher(fetchResult),
	}
	if hooks.onAlert != nil {
		channelOpts = append(channelOpts, push.WithAlert(hooks.onAlert))
	}
	if hooks.onState != nil {
		channelOpts = append(channelOpts, push.WithStateChange(hooks.onState))
	}
	channel := push.NewChannel(dial, push.Policy{
		Base:        cfg.PushBackoffBase(),
		Cap:         cfg.PushBackoffCap(),
		MaxAttempts: cfg.Push.MaxAttempts,
	}, cfg.PushWatchdog(), channelOpts...)

	s := &Session{
		cfg:           cfg,
		Credentials:   credStore,
		Coordinator:   coord,
		Pipeline:      pipe,
		Registry:      registry,
		Orchestrator:  orch,
		Notifications: notifStore,
		NotifyClient:  notifClient,
		Channel:       channel,
		onExpired:     hooks.onExpired,
	}

	coord.OnTeardown(s.expire)

	// A rotated credential must become visible to the live stream: the old
	// subscription is authenticated with a dead token.
	credStore.Subscribe(func(cred *auth.Credential) {
		if cred != nil {
			channel.Reconnect()
		}
	})

	return s
}

// Start launches the orchestrator and, when a credential is already
// present, the push channel.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.Orchestrator.Start(ctx)
	if _, ok := s.Credentials.Get(); ok {
		s.startChannel()
	}
}

// LoggedIn reports whether a credential is present.
func (s *Session) LoggedIn() bool {
	_, ok := s.Credentials.Get()
	return ok
}

// Login authenticates and brings the push channel up.
func (s *Session) Login(ctx context.Context, email, password string) error {
	cred, err := pipeline.Login(ctx, s.cfg.BaseURL, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.Credentials.Set(cred)
	s.startChannel()
	return nil
}

// Logout tears the session down: pending jobs abandoned, push channel
// closed, credential cleared (memory and disk).
func (s *Session) Logout() {
	s.teardownOnce.Do(func() {
		s.Registry.Clear()
		s.stopChannel()
		s.Credentials.Clear()
		slog.Info("session ended")
	})
}

// Close stops all background work; the credential stays for the next run.
func (s *Session) Close() {
	s.Orchestrator.Stop()
	s.stopChannel()
}

// expire handles terminal refresh failure. The coordinator has already
// cleared the credential; the channel is stopped off-thread because expiry
// can surface inside one of the channel's own dispatch paths.
func (s *Session) expire() {
	s.teardownOnce.Do(func() {
		s.Registry.Clear()
		go s.stopChannel()
		if s.onExpired != nil {
			s.onExpired()
		}
	})
}

func (s *Session) startChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelRunning || s.ctx == nil {
		return
	}
	s.Channel.Start(s.ctx)
	s.channelRunning = true
}

func (s *Session) stopChannel() {
	s.mu.Lock()
	running := s.channelRunning
	s.channelRunning = false
	s.mu.Unlock()
	if running {
		s.Channel.Stop()
	}
}
