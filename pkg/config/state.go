package config

import (
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

// State file locations relative to the data directory.
const (
	InputStateFile  = "in/state.json"
	OutputStateFile = "out/state.json"
)

// LoadState reads the state left by the previous run. A missing or empty
// file yields an empty state.
func LoadState(dataDir string) (core.RunState, error) {
	var state core.RunState

	path := filepath.Join(dataDir, InputStateFile)
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the data directory
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return state, nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to read state file").
			WithDetail("path", path)
	}
	if len(data) == 0 {
		return state, nil
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return state, nebulaerrors.Wrap(err, nebulaerrors.KindConfiguration, "State file is not valid JSON").
			WithDetail("path", path)
	}
	return state, nil
}

// SaveState writes state for the next run.
func SaveState(dataDir string, state core.RunState) error {
	path := filepath.Join(dataDir, OutputStateFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to create state directory")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to encode state")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to write state file").
			WithDetail("path", path)
	}
	return nil
}
