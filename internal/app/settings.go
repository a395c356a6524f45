package app

import (
	"fmt"

	"notifyd/internal/config"
	"notifyd/internal/fdn"
	"notifyd/internal/rules"
	"notifyd/internal/script"
)

// buildSettings resolves the reloadable server state from cfg.
func buildSettings(cfg *config.Config) (fdn.Settings, error) {
	qc, err := cfg.QueueConfig()
	if err != nil {
		return fdn.Settings{}, err
	}
	rs, err := cfg.BuildRules()
	if err != nil {
		return fdn.Settings{}, err
	}
	return fdn.Settings{
		Queue:       qc,
		Rules:       rs,
		Markup:      cfg.DefaultMarkup(),
		PruneMaxAge: cfg.PruneMaxAge(),
	}, nil
}

func scriptConfig(cfg *config.Config) script.Config {
	return script.Config{
		RatePerSec: cfg.Scripts.RatePerSec,
		Timeout:    cfg.ScriptTimeout(),
	}
}

// Report is the outcome of Check.
type Report struct {
	Path  string
	Rules int
	// Patterns lists rules with malformed patterns. They load, but never match.
	Patterns []error
}

// Check parses and validates the config at path without touching the bus.
func Check(path string) (Report, error) {
	rep := Report{Path: path}
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return rep, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := config.Validate(cfg); err != nil {
		return rep, err
	}
	rs, err := cfg.BuildRules()
	if err != nil {
		return rep, err
	}
	rep.Rules = len(rs)
	rep.Patterns = rules.NewSet(rs...).Errs()
	return rep, nil
}
