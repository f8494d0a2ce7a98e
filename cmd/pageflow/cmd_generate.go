package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/pageflow/internal/session"
	"github.com/user/pageflow/internal/task"
	"github.com/user/pageflow/internal/types"
)

func init() {
	rootCmd.AddCommand(generateCmd, statusCmd)

	generateCmd.Flags().String("strategy", "auto", "completion strategy: wait, async, or auto")
	generateCmd.Flags().String("page-type", "", "page type hint")
	generateCmd.Flags().String("product-id", "", "product the page belongs to")
	generateCmd.Flags().Int("timeout", 0, "wait timeout in seconds (0 uses the configured default)")
	generateCmd.Flags().String("out", "", "directory to write generated pages into (stdout if empty)")
}

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate a page",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func parseStrategy(s string) (task.Strategy, error) {
	switch task.Strategy(s) {
	case task.StrategyWait, task.StrategyAsync, task.StrategyAuto:
		return task.Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want wait, async, or auto)", s)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	strategyFlag, _ := cmd.Flags().GetString("strategy")
	strategy, err := parseStrategy(strategyFlag)
	if err != nil {
		return err
	}
	pageType, _ := cmd.Flags().GetString("page-type")
	productID, _ := cmd.Flags().GetString("product-id")
	timeoutSec, _ := cmd.Flags().GetInt("timeout")
	outDir, _ := cmd.Flags().GetString("out")

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s := session.New(cfg)
	s.Start(ctx)
	defer s.Close()
	if !s.LoggedIn() {
		return fmt.Errorf("not logged in (run: pageflow login)")
	}

	done := make(chan error, 1)
	backgrounded := make(chan struct{}, 1)
	jobOpts := []task.JobOption{
		task.WithOnProgress(func(p int) {
			fmt.Fprintf(os.Stderr, "progress: %d%%\n", p)
		}),
		task.WithOnComplete(func(res types.GenerateResult) {
			done <- emitResult(res, outDir)
		}),
		task.WithOnError(func(err error) {
			done <- err
		}),
		task.WithOnTimeout(func() {
			backgrounded <- struct{}{}
		}),
	}
	if timeoutSec > 0 {
		jobOpts = append(jobOpts, task.WithWaitTimeout(time.Duration(timeoutSec)*time.Second))
	}

	outcome, err := s.Orchestrator.Generate(ctx, types.GenerateRequest{
		Prompt:    args[0],
		PageType:  pageType,
		ProductID: productID,
	}, strategy, jobOpts...)
	if err != nil {
		return err
	}
	if outcome.Result != nil {
		return emitResult(*outcome.Result, outDir)
	}

	job := outcome.Job
	fmt.Fprintf(os.Stderr, "Task %s accepted (mode: %s).\n", job.ID, job.Mode)

	// Async completion arrives over the push channel, so the process stays
	// alive either way until the job finishes or the user gives up.
	for {
		select {
		case err := <-done:
			return err
		case <-backgrounded:
			fmt.Fprintf(os.Stderr, "Wait window passed; tracking over push. Ctrl-C to detach (task keeps running).\n")
		case <-ctx.Done():
			fmt.Fprintf(os.Stdout, "Detached; check later with: pageflow status %s\n", job.ID)
			return nil
		}
	}
}

func emitResult(res types.GenerateResult, outDir string) error {
	if outDir == "" {
		for _, html := range res.HTMLList {
			fmt.Fprintln(os.Stdout, html)
		}
		return nil
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for i, html := range res.HTMLList {
		path := filepath.Join(outDir, fmt.Sprintf("page-%d.html", i+1))
		if err := os.WriteFile(path, []byte(html), 0644); err != nil {
			return fmt.Errorf("write page: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Wrote %s.\n", path)
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Fetch the status of an accepted generation task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		s := session.New(cfg)
		if !s.LoggedIn() {
			return fmt.Errorf("not logged in (run: pageflow login)")
		}

		var env types.StatusEnvelope
		if _, err := s.Pipeline.Do(cmd.Context(), http.MethodGet, "/pages/generate/status/"+args[0], nil, &env); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Status: %s\n", env.Data.Status)
		if env.Data.Progress > 0 {
			fmt.Fprintf(os.Stdout, "Progress: %d%%\n", env.Data.Progress)
		}
		if env.Data.Message != "" {
			fmt.Fprintf(os.Stdout, "Message: %s\n", env.Data.Message)
		}
		for _, html := range env.Data.HTMLList {
			fmt.Fprintln(os.Stdout, html)
		}
		return nil
	},
}
