package main

import (
	"fmt"
	"io"

	"github.com/alexjbarnes/drive-mirror/internal/config"
	"github.com/alexjbarnes/drive-mirror/internal/models"
	"github.com/alexjbarnes/drive-mirror/internal/state"
	"gopkg.in/yaml.v3"
)

type statusReport struct {
	Root      string             `yaml:"root"`
	StatePath string             `yaml:"state_path"`
	Count     int                `yaml:"entries"`
	Entries   []models.SyncEntry `yaml:"synced,omitempty"`
}

// status prints the metadata cache as YAML. The daemon holds the state
// lock while running, so this is meant for a stopped daemon.
func status(out io.Writer) error {
	cfg, err := config.LoadStatus()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	return writeStatus(out, cfg.StatePath, appState)
}

func writeStatus(out io.Writer, statePath string, appState *state.State) error {
	entries, err := appState.AllEntries()
	if err != nil {
		return fmt.Errorf("reading entries: %w", err)
	}

	report := statusReport{
		Root:      appState.Root(),
		StatePath: statePath,
		Count:     len(entries),
		Entries:   entries,
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return enc.Close()
}
