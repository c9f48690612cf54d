package workspace

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/scan_capture/internal/reconstruct"
)

// Manifest describes a session handed off for reconstruction.
type Manifest struct {
	SessionID string              `yaml:"session_id"`
	Mode      string              `yaml:"mode"`
	StartedAt time.Time           `yaml:"started_at"`
	Finished  time.Time           `yaml:"finished_at"`
	Options   reconstruct.Options `yaml:"options"`
	Start     *Coordinates        `yaml:"start_location,omitempty"`
	End       *Coordinates        `yaml:"end_location,omitempty"`
	Samples   []ManifestSample    `yaml:"samples"`
}

type ManifestSample struct {
	ID         uint64    `yaml:"id"`
	File       string    `yaml:"file"`
	CapturedAt time.Time `yaml:"captured_at"`
}

type Coordinates struct {
	Latitude  float64 `yaml:"lat"`
	Longitude float64 `yaml:"lon"`
	DMS       string  `yaml:"dms,omitempty"`
}

func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: marshal manifest: %v", ErrIO, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	return nil
}

func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: parse %s: %v", ErrIO, path, err)
	}
	return m, nil
}
