package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/autokey/internal/config"
	"github.com/goodtune/autokey/internal/control"
	"github.com/goodtune/autokey/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and change cadence settings",
	Long: `Read and change the settings the scheduler reads on every tick.

Known keys:
  action.primary     first key (default R, empty to clear)
  action.secondary   second key (default E, empty to clear)
  interval.seconds   seconds between presses (minimum 0.5, default 2)
  autostop.hours     hours for "start --timer"
  autostop.minutes   minutes for "start --timer"

Changes take effect on the next tick of a running daemon.`,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := listSettings()
		if err != nil {
			return err
		}
		printSettings(settings)
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := storage.Default(args[0]); !ok {
			return fmt.Errorf("unknown setting: %s", args[0])
		}
		settings, err := listSettings()
		if err != nil {
			return err
		}
		for _, s := range settings {
			if s.Key == args[0] {
				fmt.Println(s.Value)
				return nil
			}
		}
		return fmt.Errorf("unknown setting: %s", args[0])
	},
}

var settingsSetCmd = &cobra.Command{
	Use:     "set KEY VALUE",
	Short:   "Change one setting",
	Example: `  autokey settings set action.primary F
  autokey settings set action.secondary ""
  autokey settings set interval.seconds 1.5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setSetting(args[0], args[1])
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("%s = %q\n", s.Key, s.Value)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

// withStore opens the configured settings store directly. In-memory
// settings only exist inside the daemon, so that backend reports
// errUseDaemon and callers go through the control API instead.
func withStore(fn func(ctx context.Context, store storage.SettingsStore) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Storage.Type == "memory" || controlAddr != "" {
		return errUseDaemon
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return fn(ctx, store)
}

var errUseDaemon = errors.New("settings are held by the daemon")

func listSettings() ([]control.Setting, error) {
	var out []control.Setting
	err := withStore(func(ctx context.Context, store storage.SettingsStore) error {
		stored, err := store.All(ctx)
		if err != nil {
			return err
		}
		for _, key := range storage.Keys {
			def, _ := storage.Default(key)
			value, set := stored[key]
			if !set {
				value = def
			}
			out = append(out, control.Setting{Key: key, Value: value, Default: def, Set: set})
		}
		return nil
	})
	if errors.Is(err, errUseDaemon) {
		err = withClient(func(ctx context.Context, c *control.Client) error {
			var cerr error
			out, cerr = c.Settings(ctx)
			return cerr
		})
	}
	return out, err
}

func setSetting(key, value string) (control.Setting, error) {
	def, ok := storage.Default(key)
	if !ok {
		return control.Setting{}, fmt.Errorf("unknown setting: %s", key)
	}
	normalized, err := storage.ValidateSetting(key, value)
	if err != nil {
		return control.Setting{}, err
	}

	result := control.Setting{Key: key, Value: normalized, Default: def, Set: true}
	err = withStore(func(ctx context.Context, store storage.SettingsStore) error {
		return store.Set(ctx, key, normalized)
	})
	if errors.Is(err, errUseDaemon) {
		err = withClient(func(ctx context.Context, c *control.Client) error {
			var cerr error
			result, cerr = c.SetSetting(ctx, key, normalized)
			return cerr
		})
	}
	return result, err
}

func printSettings(settings []control.Setting) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow, color.Bold)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, s := range settings {
		value := fmt.Sprintf("%q", s.Value)
		if s.Set && s.Value != s.Default {
			fmt.Fprintf(tw, "%s\t%s\t(default %q)\n", s.Key, yellow.Sprint(value), s.Default)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t\n", s.Key, green.Sprint(value))
		}
	}
	_ = tw.Flush()
}
