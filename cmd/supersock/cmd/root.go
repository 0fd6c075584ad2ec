// Package cmd implements the supersock command line interface.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML config file; flags override file values.
type Config struct {
	Address   string        `yaml:"address"`
	Port      int           `yaml:"port"`
	Key       string        `yaml:"key"`
	Negotiate bool          `yaml:"negotiate"`
	Timeout   time.Duration `yaml:"timeout"`
}

var (
	cfgFile string
	cfg     = Config{
		Address: "127.0.0.1",
		Port:    4040,
		Timeout: 3 * time.Second,
	}
	verbose bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "supersock",
	Short: "Exchange structured values over an optionally encrypted socket",
	Long: `supersock opens one connection between a listener and an initiator and
exchanges structured values over it. The listener decides whether the
connection negotiates a session key automatically; alternatively both sides
can share a passphrase.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			b, err := os.ReadFile(cfgFile)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return fmt.Errorf("parse config: %w", err)
			}
		}
		// Flags win over the config file.
		f := cmd.Flags()
		if f.Changed("address") {
			cfg.Address, _ = f.GetString("address")
		}
		if f.Changed("port") {
			cfg.Port, _ = f.GetInt("port")
		}
		if f.Changed("key") {
			cfg.Key, _ = f.GetString("key")
		}
		if f.Changed("negotiate") {
			cfg.Negotiate, _ = f.GetBool("negotiate")
		}
		if f.Changed("timeout") {
			cfg.Timeout, _ = f.GetDuration("timeout")
		}

		var err error
		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the CLI.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.String("address", cfg.Address, "address to bind or connect to")
	pf.Int("port", cfg.Port, "TCP port")
	pf.String("key", "", "pre-shared passphrase for symmetric encryption")
	pf.Bool("negotiate", false, "negotiate a session key automatically (listener decides)")
	pf.Duration("timeout", cfg.Timeout, "blocking socket timeout")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}
