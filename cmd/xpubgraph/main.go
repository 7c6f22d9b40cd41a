// Package main provides xpubgraph, a watch-only wallet scanner that syncs
// extended public keys against an Electrum server and prints the graph of
// how their funds moved.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/klingon-exchange/xpubgraph/internal/chain"
	"github.com/klingon-exchange/xpubgraph/internal/config"
	"github.com/klingon-exchange/xpubgraph/internal/storage"
	"github.com/klingon-exchange/xpubgraph/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// app carries the state shared by all commands.
type app struct {
	dataDir   string
	logLevel  string
	logFormat string
	testnet   bool

	cfg *config.Config
	log *logging.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "xpubgraph",
		Short: "Trace the funds of watch-only Bitcoin wallets",
		Long: `xpubgraph derives the addresses of extended public keys (xpub, ypub, zpub
and their testnet forms), loads their history from an Electrum server and
prints the graph of how value moved between them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", config.DefaultDataDir, "Data directory")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides config")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (text, json, logfmt), overrides config")
	root.PersistentFlags().BoolVar(&a.testnet, "testnet", false, "Use testnet (separate data directory)")

	root.AddCommand(
		newWalletCmd(a),
		newSyncCmd(a),
		newBridgeCmd(a),
		newStatusCmd(a),
		newVersionCmd(),
	)
	return root
}

// init loads the config file and sets up logging. CLI flags take
// precedence over the config file.
func (a *app) init(cmd *cobra.Command) error {
	effectiveDataDir := a.dataDir
	if a.testnet {
		effectiveDataDir = filepath.Join(a.dataDir, "testnet")
	}

	cfg, err := config.LoadConfig(effectiveDataDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Storage.DataDir = effectiveDataDir
	if a.testnet {
		cfg.Network = string(chain.Testnet)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		if _, err := logging.ParseFormat(a.logFormat); err != nil {
			return err
		}
		cfg.Logging.Format = a.logFormat
	}
	a.cfg = cfg

	a.log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		TimeFormat: time.TimeOnly,
		Output:     cmd.ErrOrStderr(),
	})
	logging.SetDefault(a.log)

	a.log.Debug("config loaded", "path", config.ConfigPath(effectiveDataDir))
	return nil
}

func (a *app) network() (chain.Network, error) {
	return chain.ParseNetwork(a.cfg.Network)
}

func (a *app) openStorage() (*storage.Storage, error) {
	store, err := storage.New(&storage.Config{DataDir: a.cfg.Storage.DataDir})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := a.network()
			if err != nil {
				return err
			}
			store, err := a.openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(string(network))
			if err != nil {
				return err
			}
			lastSync := stats.LastSync
			if lastSync == "" {
				lastSync = "never"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Network:      %s\n", network)
			fmt.Fprintf(out, "Database:     %s\n", stats.Path)
			fmt.Fprintf(out, "Wallets:      %d\n", stats.Wallets)
			fmt.Fprintf(out, "Transactions: %d\n", stats.Transactions)
			fmt.Fprintf(out, "Last sync:    %s\n", lastSync)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skip config loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "xpubgraph %s (commit: %s)\n", version, commit)
}
