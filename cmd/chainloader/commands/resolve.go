package commands

import (
	"fmt"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/pinstate"
)

// AcceptCmd implements the 'accept' command.
type AcceptCmd struct{}

func (AcceptCmd) Run(g *Global, root *CLI) error {
	return resolvePending(g, root, true)
}

// RejectCmd implements the 'reject' command.
type RejectCmd struct{}

func (RejectCmd) Run(g *Global, root *CLI) error {
	return resolvePending(g, root, false)
}

// resolvePending answers the pending update prompt ahead of the next boot.
// Without a pending version the answer applies to the next offer.
func resolvePending(g *Global, root *CLI, accept bool) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	store := pinstate.NewStore(cfg.PinPath())
	st, err := store.Load()
	if err != nil {
		return err
	}
	next := st.Clone()
	next.SetResolution(accept)
	if _, err := store.SaveIfChanged(st, next); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to save pin file").
			WithContext("path", store.Path()).Build()
	}

	verb := "rejected"
	if accept {
		verb = "accepted"
	}
	if v := next.PendingVersion(); v != "" {
		_, _ = fmt.Fprintf(out(g), "update %s %s\n", v, verb)
	} else {
		_, _ = fmt.Fprintf(out(g), "next update will be %s\n", verb)
	}
	return nil
}
