package dataset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestSuffix is appended to a CSV path to name its sidecar.
const ManifestSuffix = ".manifest.yaml"

// Manifest describes a CSV dump so the trainer can tell what it is reading.
type Manifest struct {
	Symbol      string    `yaml:"symbol"`
	Interval    string    `yaml:"interval"`
	Rows        int       `yaml:"rows"`
	FirstOpen   int64     `yaml:"first_open_time"`
	LastOpen    int64     `yaml:"last_open_time"`
	Pages       int       `yaml:"pages"`
	Archive     string    `yaml:"archive,omitempty"`
	GeneratedAt time.Time `yaml:"generated_at"`
}

func ManifestPath(csvPath string) string {
	return strings.TrimSpace(csvPath) + ManifestSuffix
}

func WriteManifest(path string, m Manifest) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadManifest parses a sidecar. Unknown keys are rejected.
func ReadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}
