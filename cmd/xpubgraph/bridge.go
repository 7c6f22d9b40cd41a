package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/klingon-exchange/xpubgraph/internal/bridge"
)

func newBridgeCmd(a *app) *cobra.Command {
	var (
		listen string
		server string
		useTLS bool
	)
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve an Electrum server over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Bridge
			if listen != "" {
				cfg.Listen = listen
			}
			if server != "" {
				cfg.ElectrumServer = server
			}
			if cmd.Flags().Changed("tls") {
				cfg.UseTLS = useTLS
			}

			b := bridge.New(bridge.Config{
				Listen:         cfg.Listen,
				ElectrumServer: cfg.ElectrumServer,
				UseTLS:         cfg.UseTLS,
			})
			if err := b.Start(); err != nil {
				return fmt.Errorf("failed to start bridge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bridge listening on ws://%s -> %s\n", b.Addr(), cfg.ElectrumServer)

			// Wait for interrupt signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			a.log.Info("shutting down bridge", "clients", b.ClientCount())
			return b.Stop()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides config")
	cmd.Flags().StringVar(&server, "electrum-server", "", "Electrum server host:port, overrides config")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "Connect to the Electrum server over TLS")
	return cmd
}
