package cmd

import (
	"context"
	"encoding/json"
	"io"

	"github.com/nvr-ai/go-cheatdetect/config"
	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/internal/log"
	"github.com/nvr-ai/go-cheatdetect/locator"
	"github.com/nvr-ai/go-cheatdetect/state"
	"github.com/pkg/errors"
)

// app bundles what the subcommands share: one locator, one session and the
// optional state store.
type app struct {
	cfg     *config.Config
	locator locator.Locator
	session *detector.Session
	store   state.Store
}

// openApp builds the session from c. With withLocator false no cascade is
// loaded and Detect must not be called.
func openApp(ctx context.Context, c *config.Config, withLocator bool) (*app, error) {
	a := &app{cfg: c}

	if withLocator {
		loc, err := locator.New(c.Locator.Kind, c.HaarOptions(), c.PigoOptions())
		if err != nil {
			return nil, err
		}
		a.locator = loc
	}
	a.session = detector.NewSession(a.locator, detector.NewState(c.Detector.Threshold))

	store, err := state.Open(ctx, c.StateOptions())
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "open state store")
	}
	a.store = store

	if a.store != nil && c.State.LoadOnStart {
		if err := a.load(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// load restores the session from the store; an empty store is not an error.
func (a *app) load(ctx context.Context) error {
	err := a.session.Load(ctx, a.store)
	if errors.Is(err, state.ErrNotFound) {
		log.Info("no saved state yet", "backend", a.cfg.State.Backend)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load state")
	}
	log.Info("state loaded", "backend", a.cfg.State.Backend, "stats", a.session.Stats())
	return nil
}

// autosave persists the session when the config asks for it.
func (a *app) autosave(ctx context.Context) {
	if a.store == nil || !a.cfg.State.Autosave {
		return
	}
	if err := a.session.Save(ctx, a.store); err != nil {
		log.Error("autosave failed", "error", err)
		return
	}
	log.Debug("state saved", "backend", a.cfg.State.Backend)
}

func (a *app) Close() {
	if a.locator != nil {
		if err := a.locator.Close(); err != nil {
			log.Warn("close locator", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn("close state store", "error", err)
		}
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
