package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/klingon-exchange/xpubgraph/internal/graph"
	"github.com/klingon-exchange/xpubgraph/internal/storage"
	"github.com/klingon-exchange/xpubgraph/internal/sync"
	"github.com/klingon-exchange/xpubgraph/internal/wallet"
)

// ErrNoWallets is returned by sync when nothing is watched.
var ErrNoWallets = errors.New("no wallets to sync, add one with 'xpubgraph wallet add'")

type syncOptions struct {
	timeout   time.Duration
	showEmpty bool
	format    string
	transport string
	url       string
	server    string
	useTLS    bool
}

// walletReport is the printable totals of one wallet.
type walletReport struct {
	Xpub              string `json:"xpub"`
	ScriptType        string `json:"scriptType"`
	Received          string `json:"received"`
	Spent             string `json:"spent"`
	Fee               string `json:"fee"`
	TransactionsCount int    `json:"transactionsCount"`
}

type syncReport struct {
	Graph   *graph.Graph   `json:"graph"`
	Wallets []walletReport `json:"wallets"`
}

func newSyncCmd(a *app) *cobra.Command {
	opts := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the watched wallets and print their graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "json" && opts.format != "text" {
				return fmt.Errorf("unknown format %q", opts.format)
			}
			if cmd.Flags().Changed("show-empty") {
				a.cfg.Sync.ShowAddressesWithoutTransactions = opts.showEmpty
			}
			if opts.transport != "" {
				a.cfg.Electrum.Transport = opts.transport
			}
			if opts.url != "" {
				a.cfg.Electrum.URL = opts.url
			}
			if opts.server != "" {
				a.cfg.Electrum.Server = opts.server
			}
			if cmd.Flags().Changed("tls") {
				a.cfg.Electrum.UseTLS = opts.useTLS
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := a.runSync(ctx, opts.timeout)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, opts.format)
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Give up when the sync takes longer")
	cmd.Flags().BoolVar(&opts.showEmpty, "show-empty", false, "Draw receive addresses that were never used")
	cmd.Flags().StringVar(&opts.format, "format", "json", "Output format (json, text)")
	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport (websocket, electrum), overrides config")
	cmd.Flags().StringVar(&opts.url, "url", "", "WebSocket bridge URL, overrides config")
	cmd.Flags().StringVar(&opts.server, "server", "", "Electrum server host:port, overrides config")
	cmd.Flags().BoolVar(&opts.useTLS, "tls", false, "Use TLS for the direct Electrum transport")
	return cmd
}

// runSync loads every watched wallet to completion and builds the report.
func (a *app) runSync(ctx context.Context, timeout time.Duration) (*syncReport, error) {
	store, err := a.openStorage()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	wallets, err := a.loadWallets(store)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, ErrNoWallets
	}

	cached, err := store.ListTransactions()
	if err != nil {
		return nil, fmt.Errorf("failed to load cached transactions: %w", err)
	}

	transport, err := a.cfg.NewTransport()
	if err != nil {
		return nil, err
	}
	defer transport.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	session := sync.NewSession(transport, sync.Config{
		GapLimit: a.cfg.Sync.GapLimit,
		Store:    store,
	})
	session.Seed(cached)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-session.Errors():
				a.log.Warn("sync error", "error", err)
			}
		}
	})

	start := time.Now()
	snap, err := a.waitForSync(gctx, session, wallets)

	cancelRun()
	if runErr := g.Wait(); runErr != nil && !errors.Is(runErr, context.Canceled) {
		err = runErr
	}
	if err != nil {
		return nil, fmt.Errorf("sync failed: %w", err)
	}

	a.log.Info("sync complete",
		"wallets", len(wallets),
		"addresses", len(snap.Entries),
		"transactions", len(snap.Transactions),
		"elapsed", time.Since(start).Round(time.Millisecond))

	if err := store.SetSetting(storage.SettingLastSync, time.Now().UTC().Format(time.RFC3339)); err != nil {
		a.log.Warn("failed to record sync time", "error", err)
	}
	if removed, err := store.PruneTransactions(referencedTxIDs(snap)); err != nil {
		a.log.Warn("failed to prune transaction cache", "error", err)
	} else if removed > 0 {
		a.log.Debug("pruned transaction cache", "removed", removed)
	}

	return buildReport(snap, graph.Options{ShowEmpty: a.cfg.Sync.ShowAddressesWithoutTransactions}), nil
}

func (a *app) waitForSync(ctx context.Context, session *sync.Session, wallets []*wallet.Wallet) (*sync.Snapshot, error) {
	if err := session.SetWallets(ctx, wallets); err != nil {
		return nil, err
	}
	return session.WaitReady(ctx)
}

// referencedTxIDs returns the txids in the history of any loaded address.
func referencedTxIDs(snap *sync.Snapshot) map[string]bool {
	ids := make(map[string]bool)
	for _, e := range snap.Entries {
		for _, txid := range e.TxIDs {
			ids[txid] = true
		}
	}
	return ids
}

func buildReport(snap *sync.Snapshot, opts graph.Options) *syncReport {
	totals := graph.ComputeTotals(snap)
	report := &syncReport{
		Graph:   graph.Build(snap, opts),
		Wallets: make([]walletReport, 0, len(snap.Wallets)),
	}
	for _, w := range snap.Wallets {
		t := totals[w.Xpub]
		report.Wallets = append(report.Wallets, walletReport{
			Xpub:              w.Xpub,
			ScriptType:        string(w.ScriptType),
			Received:          t.FormatReceived(),
			Spent:             t.FormatSpent(),
			Fee:               t.FormatFee(),
			TransactionsCount: t.TransactionsCount,
		})
	}
	return report
}

func printReport(w io.Writer, report *syncReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "XPUB\tTYPE\tRECEIVED\tSPENT\tFEE\tTXS\t")
		for _, r := range report.Wallets {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t\n",
				shortXpub(r.Xpub), r.ScriptType, r.Received, r.Spent, r.Fee, r.TransactionsCount)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%d nodes, %d edges\n", len(report.Graph.Nodes()), len(report.Graph.Edges()))
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func shortXpub(xpub string) string {
	if len(xpub) <= 20 {
		return xpub
	}
	return xpub[:12] + "..." + xpub[len(xpub)-8:]
}
