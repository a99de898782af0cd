// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/observability"
)

// envPrefix scopes environment overrides, e.g. PAGEPROBE_BROWSER_HEADLESS.
const envPrefix = "PAGEPROBE"

// appState carries the loaded configuration from the root command to its subcommands.
type appState struct {
	cfgFile string
	cfg     *config.Config
}

// newRootCmd builds an isolated command tree. Tests use it to avoid shared state.
func newRootCmd() (*cobra.Command, *appState) {
	state := &appState{}

	cmd := &cobra.Command{
		Use:     "pageprobe",
		Short:   "Pageprobe drives a headless browser one action at a time and records what the page did.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, state.cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "pageprobe"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			state.cfg = cfg

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting pageprobe", zap.String("version", Version))
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&state.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newRunCmd(state, newBrowserSession))
	cmd.AddCommand(newVersionCmd())
	return cmd, state
}

// Execute runs the CLI with a context that is cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, _ := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// initializeConfig reads the config file, then environment variables, then
// binds flags so that flags take precedence.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return bindFlags(cmd, v)
}

// flagKeys maps command flags onto configuration keys.
var flagKeys = map[string]string{
	"backend":     "browser.backend",
	"headless":    "browser.headless",
	"screenshots": "runner.screenshot_dir",
	"output":      "runner.output",
	"rate":        "runner.actions_per_second",
	"log-level":   "logger.level",
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}
