package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c360/vatdata/vom"
)

const (
	accountsKey = "accounts"
	notesKey    = "notes"
)

func newDemoCmd(flags *globalFlags) *cobra.Command {
	var (
		accounts int
		deposit  int
		hold     bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a small ledger of virtual account objects",
		Long: `demo defines an "account" kind, creates accounts on first run, and
deposits into every account in its own crank. Run it repeatedly against a
durable backend to watch balances survive restarts; set unit.cache_size
below the account count to force eviction and reload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if accounts < 1 {
				return fmt.Errorf("--accounts must be at least 1, got %d", accounts)
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := setupLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format, cfg.Unit.Name)

			ctx := cmd.Context()
			u, err := openUnit(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer u.Close()

			if err := runLedger(ctx, u.manager, accounts, int64(deposit), cmd.OutOrStdout()); err != nil {
				return err
			}

			if hold && u.metrics != nil {
				logger.Info("Holding for metrics scrapes; interrupt to exit", "address", u.metrics.Address())
				<-ctx.Done()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&accounts, "accounts", 3, "accounts to create on first run")
	cmd.Flags().IntVar(&deposit, "deposit", 10, "amount deposited into each account per run")
	cmd.Flags().BoolVar(&hold, "hold", false, "keep serving metrics after the run until interrupted")
	return cmd
}

func accountInit(args ...any) (vom.State, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("account takes an owner, got %d args", len(args))
	}
	owner, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("account owner must be a string, got %T", args[0])
	}
	return vom.State{"owner": owner, "balance": int64(0), "deposits": int64(0)}, nil
}

var accountBehavior = vom.Behavior{
	"deposit": func(c *vom.Context, args ...any) (any, error) {
		amount, ok := args[0].(int64)
		if !ok || amount <= 0 {
			return nil, fmt.Errorf("deposit must be a positive int64, got %v", args[0])
		}
		balance, err := c.Get("balance")
		if err != nil {
			return nil, err
		}
		count, err := c.Get("deposits")
		if err != nil {
			return nil, err
		}
		next := balance.(int64) + amount
		if err := c.Set("balance", next); err != nil {
			return nil, err
		}
		return next, c.Set("deposits", count.(int64)+1)
	},
	"balance": func(c *vom.Context, _ ...any) (any, error) { return c.Get("balance") },
	"owner":   func(c *vom.Context, _ ...any) (any, error) { return c.Get("owner") },
}

// runLedger runs one pass of the demo workload: a setup crank, one crank per
// deposit, and a reporting crank.
func runLedger(ctx context.Context, m *vom.Manager, accounts int, deposit int64, out io.Writer) error {
	var (
		reps  []*vom.Representative
		notes *vom.WeakStore
	)

	err := m.Crank(ctx, func(ctx context.Context) error {
		makeAccount, err := m.VivifyKind(ctx, "account", accountInit, accountBehavior)
		if err != nil {
			return err
		}
		list, err := m.Baggage().Provide(ctx, accountsKey, func() (any, error) {
			created := make([]any, 0, accounts)
			for i := 1; i <= accounts; i++ {
				r, err := makeAccount(ctx, fmt.Sprintf("account-%d", i))
				if err != nil {
					return nil, err
				}
				created = append(created, r)
			}
			return created, nil
		})
		if err != nil {
			return err
		}
		reps, err = representatives(list)
		if err != nil {
			return err
		}

		ws, err := m.Baggage().Provide(ctx, notesKey, func() (any, error) {
			return m.MakeWeakStore(ctx)
		})
		if err != nil {
			return err
		}
		notes = ws.(*vom.WeakStore)
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range reps {
		err := m.Crank(ctx, func(ctx context.Context) error {
			balance, err := r.Invoke(ctx, "deposit", deposit)
			if err != nil {
				return err
			}
			return notes.Set(ctx, r, fmt.Sprintf("last deposit %d, balance %d", deposit, balance))
		})
		if err != nil {
			return err
		}
	}

	return m.Crank(ctx, func(ctx context.Context) error {
		for _, r := range reps {
			owner, err := r.Invoke(ctx, "owner")
			if err != nil {
				return err
			}
			balance, err := r.Invoke(ctx, "balance")
			if err != nil {
				return err
			}
			note, _, err := notes.Get(ctx, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%s\t%d\t%v\n", r.Slot(), owner, balance, note)
		}
		stats := m.CacheStats()
		fmt.Fprintf(out, "cache: %d hits, %d misses, %d evictions\n", stats.Hits, stats.Misses, stats.Evictions)
		return nil
	})
}

func representatives(v any) ([]*vom.Representative, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("baggage %q holds %T, want a list", accountsKey, v)
	}
	reps := make([]*vom.Representative, 0, len(list))
	for _, item := range list {
		r, ok := item.(*vom.Representative)
		if !ok {
			return nil, fmt.Errorf("baggage %q holds a %T", accountsKey, item)
		}
		reps = append(reps, r)
	}
	return reps, nil
}
