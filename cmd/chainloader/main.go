package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/chainloader/cmd/chainloader/commands"
	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/version"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{In: os.Stdin, Out: os.Stdout}
	ctx := kong.Parse(cli,
		kong.Name("chainloader"),
		kong.Description("Keep a component up to date and load its nested dependencies."),
		kong.Vars{"version": version.Version},
		kong.Bind(global),
	)
	if err := ctx.Run(global, cli); err != nil {
		errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
