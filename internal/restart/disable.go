package restart

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/retry"
)

const (
	PendingDisableName = "pending-disable.yaml"
	DisabledSuffix     = ".disabled"
)

type pendingRecord struct {
	RecordedAt time.Time `yaml:"recorded_at,omitempty"`
	Files      []string  `yaml:"files"`
}

func (r *pendingRecord) add(paths ...string) {
	have := make(map[string]bool, len(r.Files))
	for _, f := range r.Files {
		have[f] = true
	}
	for _, p := range paths {
		if !have[p] {
			r.Files = append(r.Files, p)
			have[p] = true
		}
	}
	r.RecordedAt = time.Now().UTC()
}

func (c *Coordinator) pendingPath() string { return filepath.Join(c.installDir, PendingDisableName) }

func readPending(path string) (*pendingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &pendingRecord{}, nil
		}
		return nil, err
	}
	var rec pendingRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "malformed pending-disable record").
			WithContext("path", path).Build()
	}
	return &rec, nil
}

func writePending(path string, rec *pendingRecord) error {
	if len(rec.Files) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.WrapError(err, errors.CategoryFileSystem, "failed to clear pending-disable record").Build()
		}
		return nil
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode pending-disable record").Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to create install directory").Build()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pending-disable-*.tmp")
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write pending-disable record").Build()
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write pending-disable record").Build()
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write pending-disable record").Build()
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write pending-disable record").Build()
	}
	return nil
}

// Pending lists the files queued for disabling.
func (c *Coordinator) Pending() ([]string, error) {
	rec, err := readPending(c.pendingPath())
	if err != nil {
		return nil, err
	}
	return rec.Files, nil
}

// DisablePending renames every recorded superseded file to
// <name>.disabled. It runs at the very start of a process, when the
// previous instance may still be releasing its file handles, so each rename
// is retried under the disable policy. Files that stay locked remain in the
// record for the next start. Missing files count as done.
func (c *Coordinator) DisablePending(ctx context.Context) ([]string, error) {
	rec, err := readPending(c.pendingPath())
	if err != nil {
		return nil, err
	}
	if len(rec.Files) == 0 {
		return nil, nil
	}
	if c.state != StateClean {
		return nil, errors.InternalError("restart coordinator already used this boot").
			WithContext("state", string(c.state)).Build()
	}
	c.transition(StateDisablingSuperseded)
	defer c.transition(StateClean)

	var disabled, remaining []string
	for _, p := range rec.Files {
		err := c.policy.Do(ctx, func(attempt int) error {
			err := c.fs.Rename(p, p+DisabledSuffix)
			if err != nil && os.IsNotExist(err) {
				if _, statErr := c.fs.Stat(p); os.IsNotExist(statErr) {
					return retry.Stop(errMissing)
				}
			}
			if err != nil && attempt == 1 {
				slog.Debug("Superseded artifact still locked, retrying", logfields.Path(p), logfields.Error(err))
			}
			return err
		})
		switch {
		case err == nil:
			slog.Info("Disabled superseded artifact", logfields.Path(p))
			disabled = append(disabled, p)
		case err == errMissing:
			slog.Debug("Superseded artifact already gone", logfields.Path(p))
		case ctx.Err() != nil:
			remaining = append(remaining, p)
		default:
			slog.Warn("Could not disable superseded artifact, will retry next start", logfields.Path(p), logfields.Error(err))
			remaining = append(remaining, p)
		}
	}

	rec.Files = remaining
	if err := writePending(c.pendingPath(), rec); err != nil {
		return disabled, err
	}
	return disabled, ctx.Err()
}

var errMissing = errors.NewError(errors.CategoryFileSystem, "superseded artifact missing").Build()
