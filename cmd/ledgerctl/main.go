// Command ledgerctl runs operator tasks against the ledger store named by the
// environment: schema migrations, balance reconciliation, account setup and
// token issuance.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var commands = []subcommands.Command{
	&migrateCmd{},
	&reconcileCmd{},
	&openAccountCmd{},
	&balanceCmd{},
	&tokenCmd{},
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range commands {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
