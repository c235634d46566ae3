package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/autokey/internal/config"
	"github.com/goodtune/autokey/internal/control"
	"github.com/spf13/cobra"
)

var (
	startTimer    bool
	startAutoStop time.Duration
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start pressing keys",
	Long:  `Ask the running daemon to start the scheduler. Requires a verified authorization.`,
	Example: `  autokey start
  autokey start --timer
  autokey start --auto-stop 1h30m`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop pressing keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			snap, err := c.Stop(ctx)
			if err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			snap, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear settings and run state, then re-verify",
	Long:  `Stop the scheduler, clear all persisted settings, total run time and the authorization verdict, then request a fresh authorization check.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			snap, err := c.Reset(ctx)
			if err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the authorization check now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			v, err := c.Verify(ctx)
			if err != nil {
				return err
			}
			printVerdict(v)
			return nil
		})
	},
}

func init() {
	startCmd.Flags().BoolVar(&startTimer, "timer", false, "Stop automatically after the stored autostop.hours/autostop.minutes")
	startCmd.Flags().DurationVar(&startAutoStop, "auto-stop", 0, "Stop automatically after this duration (overrides --timer)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(verifyCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if startAutoStop < 0 {
		return fmt.Errorf("--auto-stop must not be negative")
	}

	req := control.StartRequest{Timer: startTimer}
	if startAutoStop > 0 {
		req.AutoStop = startAutoStop.String()
	}

	return withClient(func(ctx context.Context, c *control.Client) error {
		snap, err := c.Start(ctx, req)
		if err != nil {
			var apiErr *control.APIError
			if errors.As(err, &apiErr) {
				return fmt.Errorf("start rejected: %s", apiErr.Message)
			}
			return err
		}
		printSnapshot(snap)
		return nil
	})
}

// resolveControlAddr picks --addr, falling back to the configured address
func resolveControlAddr() (string, error) {
	if controlAddr != "" {
		return controlAddr, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg.ControlAddr(), nil
}

func withClient(fn func(ctx context.Context, c *control.Client) error) error {
	addr, err := resolveControlAddr()
	if err != nil {
		return err
	}

	client, err := control.NewClient(addr, 10*time.Second)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return fn(ctx, client)
}
