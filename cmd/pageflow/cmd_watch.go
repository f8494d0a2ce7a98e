package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/user/pageflow/internal/push"
	"github.com/user/pageflow/internal/session"
	"github.com/user/pageflow/internal/types"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the notification watcher daemon",
	RunE:  runWatch,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "pageflow.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	expired := make(chan struct{}, 1)
	s := session.New(cfg,
		session.WithOnExpired(func() {
			select {
			case expired <- struct{}{}:
			default:
			}
		}),
		session.WithAlert(func(n types.Notification) {
			fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", n.CreatedAt.Format("15:04:05"), n.Title, n.Body)
		}),
		session.WithStateChange(func(state push.State) {
			slog.Info("push channel state changed", "state", string(state))
		}),
	)
	if !s.LoggedIn() {
		return fmt.Errorf("not logged in (run: pageflow login)")
	}

	s.Start(ctx)
	defer s.Close()

	// Catch up on anything missed while offline, then keep the local view
	// honest on a schedule; push handles the live traffic in between.
	reconcile := func() {
		if err := s.NotifyClient.Reconcile(ctx); err != nil {
			slog.Warn("notification reconcile failed", "error", err)
			return
		}
		slog.Debug("notifications reconciled", "unread", s.Notifications.Unread())
	}
	reconcile()

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Watch.ReconcileSchedule, reconcile); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", cfg.Watch.ReconcileSchedule, err)
	}
	sched.Start()
	defer sched.Stop()

	slog.Info("pageflow watcher started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"base_url", cfg.BaseURL,
		"reconcile_schedule", cfg.Watch.ReconcileSchedule,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case <-expired:
			return fmt.Errorf("session expired; log in again")
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
						slog.Error("failed to re-write PID file", "error", writeErr)
					}
					continue
				}
			}
			slog.Info("shutting down", "signal", sig)
			return nil
		}
	}
}
