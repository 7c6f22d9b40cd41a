package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/klingon-exchange/xpubgraph/internal/chain"
	"github.com/klingon-exchange/xpubgraph/internal/storage"
	"github.com/klingon-exchange/xpubgraph/internal/wallet"
)

func newWalletCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage watched wallets",
	}
	cmd.AddCommand(newWalletAddCmd(a), newWalletRemoveCmd(a), newWalletListCmd(a))
	return cmd
}

func newWalletAddCmd(a *app) *cobra.Command {
	var (
		scriptType string
		label      string
	)
	cmd := &cobra.Command{
		Use:   "add <xpub>",
		Short: "Watch an extended public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := a.network()
			if err != nil {
				return err
			}
			addrType, err := chain.ParseAddressType(scriptType)
			if err != nil {
				return err
			}
			w, err := wallet.ParseWallet(args[0], addrType, network)
			if err != nil {
				return err
			}

			store, err := a.openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SaveWallet(&storage.WalletRecord{
				Xpub:       w.Xpub,
				ScriptType: string(w.ScriptType),
				Network:    string(w.Network),
				Label:      label,
			}); err != nil {
				return err
			}

			a.log.Info("wallet added", "xpub", w.Xpub, "script_type", w.ScriptType)
			fmt.Fprintln(cmd.OutOrStdout(), w.Xpub)
			return nil
		},
	}
	cmd.Flags().StringVar(&scriptType, "script-type", string(wallet.DefaultScriptType), "Address type (p2pkh, p2wpkh, p2tr)")
	cmd.Flags().StringVar(&label, "label", "", "Free-form label")
	return cmd
}

func newWalletRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <xpub>",
		Aliases: []string{"rm"},
		Short:   "Stop watching an extended public key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := a.network()
			if err != nil {
				return err
			}
			xpub, err := wallet.NormalizeExtendedKey(args[0], network)
			if err != nil {
				return err
			}

			store, err := a.openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.DeleteWallet(xpub)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("wallet %s is not watched", xpub)
			}
			a.log.Info("wallet removed", "xpub", xpub)
			return nil
		},
	}
}

func newWalletListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List watched wallets",
		Args:    cobra.NoArgs,
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

			records, err := store.ListWallets(string(network))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "XPUB\tTYPE\tLABEL\tADDED")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Xpub, r.ScriptType, r.Label, r.CreatedAt.Format(time.DateOnly))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// loadWallets parses the stored wallets of the configured network. When
// none is stored and the config asks for it, the demo wallet is watched.
func (a *app) loadWallets(store *storage.Storage) ([]*wallet.Wallet, error) {
	network, err := a.network()
	if err != nil {
		return nil, err
	}
	records, err := store.ListWallets(string(network))
	if err != nil {
		return nil, err
	}

	wallets := make([]*wallet.Wallet, 0, len(records))
	for _, r := range records {
		addrType, err := chain.ParseAddressType(r.ScriptType)
		if err != nil {
			return nil, fmt.Errorf("stored wallet %s: %w", r.Xpub, err)
		}
		w, err := wallet.ParseWallet(r.Xpub, addrType, network)
		if err != nil {
			return nil, fmt.Errorf("stored wallet %s: %w", r.Xpub, err)
		}
		wallets = append(wallets, w)
	}

	if len(wallets) == 0 && a.cfg.Sync.DefaultWallet && network == chain.Mainnet {
		w, err := wallet.ParseWallet(wallet.DefaultExtendedKey, wallet.DefaultScriptType, network)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}
