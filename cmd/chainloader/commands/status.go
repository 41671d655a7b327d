package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/chainloader/internal/journal"
	"git.home.luguber.info/inful/chainloader/internal/pinstate"
	"git.home.luguber.info/inful/chainloader/internal/restart"
	"git.home.luguber.info/inful/chainloader/internal/rotation"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	Limit int `short:"n" help:"Number of journal entries to show" default:"5"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	w := out(g)

	store := rotation.New(cfg.ArtifactDir(), cfg.Component.BaseName, cfg.Component.Extension)
	cur, found, err := store.FindCurrent()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "component: %s\n", cfg.Component.ID)
	if !found {
		_, _ = fmt.Fprintln(w, "installed: none")
	} else {
		version := "unknown"
		if meta, err := store.ReadMeta(); err == nil && meta != nil {
			version = meta.Version
		}
		_, _ = fmt.Fprintf(w, "installed: %s (%s)\n", version, cur.Path)
	}

	pins, err := pinstate.NewStore(cfg.PinPath()).Load()
	if err != nil {
		return err
	}
	values := pins.Map()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "pin %s=%s\n", k, values[k])
	}

	coord := restart.New(cfg.Dependencies.InstallDir, nil)
	if pending, err := coord.Pending(); err == nil {
		for _, f := range pending {
			_, _ = fmt.Fprintf(w, "pending disable: %s\n", f)
		}
	}

	if cfg.Journal.Path == "" || s.Limit <= 0 {
		return nil
	}
	j, err := journal.NewSQLiteStore(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			slog.Warn("Failed to close journal", "error", err)
		}
	}()
	entries, err := j.Recent(context.Background(), s.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tOUTCOME\tVERSION\tPREVIOUS\tCHANNEL")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Outcome, e.Version, e.PreviousVersion, e.Channel)
	}
	return tw.Flush()
}
