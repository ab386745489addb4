package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/rcourtman/buttonclicker/internal/entitlements"
	"github.com/rcourtman/buttonclicker/pkg/purchasing"
	"github.com/spf13/cobra"
)

var (
	cliUser    string
	cliTimeout time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Page through the user's purchase history and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return printRecord(ctx, cmd.OutOrStdout(), a)
		})
	},
}

var buyCmd = &cobra.Command{
	Use:   "buy <sku>",
	Short: "Purchase a SKU in the sandbox and apply the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			requestID, err := a.rec.Purchase(ctx, args[0])
			if err != nil {
				return err
			}
			var status purchasing.PurchaseStatus
			err = a.drive(ctx, func(ev purchasing.Event) bool {
				res, ok := ev.(purchasing.PurchaseResult)
				if ok && res.RequestID == requestID {
					status = res.Status
					return true
				}
				return false
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purchase %s: %s\n", requestID, status)
			return printRecord(ctx, cmd.OutOrStdout(), a)
		})
	},
}

var clickCmd = &cobra.Command{
	Use:   "click",
	Short: "Spend one click credit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			left, err := a.rec.ConsumeCredit(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "clicked; %d left\n", left)
			return nil
		})
	},
}

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Describe the catalog SKUs as the purchasing backend sees them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			requestID, err := a.rec.RequestItemData(ctx)
			if err != nil {
				return err
			}
			var res purchasing.ItemDataResult
			err = a.drive(ctx, func(ev purchasing.Event) bool {
				r, ok := ev.(purchasing.ItemDataResult)
				if ok && r.RequestID == requestID {
					res = r
					return true
				}
				return false
			})
			if err != nil {
				return err
			}
			if res.Status == purchasing.ItemDataFailed {
				return fmt.Errorf("item data request %s failed", requestID)
			}

			out := cmd.OutOrStdout()
			skus := make([]string, 0, len(res.Items))
			for sku := range res.Items {
				skus = append(skus, sku)
			}
			slices.Sort(skus)
			for _, sku := range skus {
				item := res.Items[sku]
				fmt.Fprintf(out, "%-45s %-12s %-16s %s\n", item.SKU, item.Kind, item.Title, item.Price)
			}
			for _, sku := range res.UnavailableSKUs {
				fmt.Fprintf(out, "%-45s unavailable\n", sku)
			}
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored entitlements without contacting the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("buttonclicker-cli")
		if err != nil {
			return err
		}
		ctx := cmdContext(cmd)
		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		s, err := store.Open(ctx, cliUser)
		if err != nil {
			return err
		}
		return writeRecord(cmd.OutOrStdout(), entitlements.Load(cliUser, s, cfg.DefaultCredits))
	},
}

func init() {
	for _, cmd := range []*cobra.Command{syncCmd, buyCmd, clickCmd, itemsCmd, showCmd} {
		cmd.Flags().StringVar(&cliUser, "user", "sandbox-user", "user to act as")
		cmd.Flags().DurationVar(&cliTimeout, "timeout", 10*time.Second, "how long to wait for the backend")
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withApp wires a session, syncs the user's history and then runs fn.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig("buttonclicker-cli")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmdContext(cmd), cliTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, cliUser, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sync(ctx); err != nil {
		return fmt.Errorf("sync purchase history: %w", err)
	}
	return fn(ctx, a)
}

func printRecord(ctx context.Context, out io.Writer, a *app) error {
	rec, err := a.rec.Snapshot(ctx)
	if err != nil {
		return err
	}
	return writeRecord(out, rec)
}

func writeRecord(out io.Writer, rec entitlements.Record) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
