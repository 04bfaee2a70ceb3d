package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/example/expense-ledger/internal/app"
	"github.com/example/expense-ledger/internal/auth"
	"github.com/example/expense-ledger/internal/config"
	"github.com/example/expense-ledger/internal/ledger"
	"github.com/example/expense-ledger/internal/storage"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	return config.FromEnv()
}

// withEngine builds the same engine the servers run, without migrating, so
// CLI mutations reach the audit trail and the shared stats cache.
func withEngine(ctx context.Context, fn func(*config.Config, *ledger.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.MigrateOnStart = false

	a, err := app.New(ctx, cfg, slog.New(slog.NewTextHandler(stderr, nil)))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cfg, a.Engine)
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(stderr, err)
	return subcommands.ExitFailure
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply the embedded schema migrations" }
func (*migrateCmd) Usage() string {
	return `ledgerctl migrate

  Applies every pending migration for STORE_DRIVER. Running it twice is a no-op.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	if err := storage.Migrate(app.StoreOptions(cfg)); err != nil {
		return fail(err)
	}
	fmt.Fprintf(stdout, "%s schema is up to date\n", cfg.StoreDriver)
	return subcommands.ExitSuccess
}

type reconcileCmd struct {
	asJSON bool
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "recompute balances from entries and report drift" }
func (*reconcileCmd) Usage() string {
	return `ledgerctl reconcile [-json]

  Exits non-zero when any cached balance disagrees with its entries.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "print the drift report as JSON")
}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var drift []ledger.Drift
	err := withEngine(ctx, func(_ *config.Config, e *ledger.Engine) error {
		var err error
		drift, err = e.Reconcile(ctx)
		return err
	})
	if err != nil {
		return fail(err)
	}

	if c.asJSON {
		if drift == nil {
			drift = []ledger.Drift{}
		}
		if err := printJSON(drift); err != nil {
			return fail(err)
		}
	} else {
		for _, d := range drift {
			fmt.Fprintf(stdout, "%s cached=%s computed=%s\n", d.AccountID, d.Cached, d.Computed)
		}
		if len(drift) == 0 {
			fmt.Fprintln(stdout, "all balances consistent")
		}
	}
	if len(drift) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type openAccountCmd struct {
	name   string
	email  string
	parent string
}

func (*openAccountCmd) Name() string     { return "open-account" }
func (*openAccountCmd) Synopsis() string { return "register an admin, or a member of -parent" }
func (*openAccountCmd) Usage() string {
	return `ledgerctl open-account -name <name> -email <email> [-parent <admin id>]
`
}

func (c *openAccountCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "display name")
	f.StringVar(&c.email, "email", "", "unique email address")
	f.StringVar(&c.parent, "parent", "", "admin account id; registers a member when set")
}

func (c *openAccountCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	req := ledger.OpenAccountRequest{Name: c.name, Email: c.email, Role: ledger.RoleAdmin}
	if c.parent != "" {
		req.Role = ledger.RoleMember
		req.ParentID = c.parent
		req.ActorID = c.parent
	}

	var acct ledger.Account
	err := withEngine(ctx, func(_ *config.Config, e *ledger.Engine) error {
		var err error
		acct, err = e.OpenAccount(ctx, req)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if err := printJSON(acct); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type balanceCmd struct {
	account string
	limit   int
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "show an account's balance and latest entries" }
func (*balanceCmd) Usage() string {
	return `ledgerctl balance -account <id> [-limit <n>]
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "account id")
	f.IntVar(&c.limit, "limit", ledger.DefaultPageSize, "number of entries to show")
}

func (c *balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var page ledger.Page
	err := withEngine(ctx, func(_ *config.Config, e *ledger.Engine) error {
		var err error
		page, err = e.ReadLedger(ctx, c.account, 0, c.limit)
		return err
	})
	if err != nil {
		return fail(err)
	}

	fmt.Fprintf(stdout, "balance: %s (%d entries)\n", page.Balance, page.Total)
	for _, en := range page.Entries {
		fmt.Fprintf(stdout, "%s  %-6s  %12s  %-16s  %s\n",
			en.OccurredAt, en.Kind, en.Contribution().StringFixed(2), en.Category, en.Details)
	}
	return subcommands.ExitSuccess
}

type tokenCmd struct {
	account string
	ttl     time.Duration
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "issue an access token for an account" }
func (*tokenCmd) Usage() string {
	return `ledgerctl token -account <id> [-ttl <duration>]

  Signs a token with ACCESS_SECRET carrying the account's id and role.
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "account id")
	f.DurationVar(&c.ttl, "ttl", time.Hour, "token lifetime")
}

func (c *tokenCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var tok string
	err := withEngine(ctx, func(cfg *config.Config, e *ledger.Engine) error {
		acct, err := e.Account(ctx, c.account)
		if err != nil {
			return err
		}
		v := &auth.Validator{Secret: []byte(cfg.AccessSecret), Issuer: auth.DefaultIssuer}
		tok, err = v.Issue(auth.Identity{AccountID: acct.ID, Role: acct.Role}, c.ttl)
		return err
	})
	if err != nil {
		return fail(err)
	}
	fmt.Fprintln(stdout, tok)
	return subcommands.ExitSuccess
}
