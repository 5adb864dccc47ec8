package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"sentinel/internal/app"
	"sentinel/pkg/systemd"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "sentinel",
	Short:         "Scheduled repository activity reports",
	Long:          `Sentinel watches repositories for new commits, pull requests, issues and releases and delivers periodic reports to email, chat webhooks, plain webhooks and Telegram.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply storage migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
			fmt.Println("storage is up to date")
			return nil
		})
	},
}

func execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./sentinel.yaml", "path to config (yaml or json)")
	rootCmd.AddCommand(runCmd, migrateCmd)
	addSubscriptionCommands(rootCmd)
	addReportCommands(rootCmd)
}

// withApp builds the app for a one-shot command and always stops it.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return errors.Join(runErr, a.Stop(stopCtx))
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	_, _ = systemd.Ready()

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	_, _ = systemd.Stopping()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(a.Err(), a.Stop(stopCtx))
}

func newBar(total int, description string) *progressbar.ProgressBar {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetWriter(os.Stderr),
	)
	_ = bar.RenderBlank()
	return bar
}

func newSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetWriter(os.Stderr),
	)
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}
