// Package export writes the current monitor state to a JSON or YAML file.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/internal/monitor"

	"gopkg.in/yaml.v3"
)

// Document is the exported state.
type Document struct {
	Timestamp time.Time                `json:"timestamp" yaml:"timestamp"`
	Stats     monitor.Stats            `json:"stats" yaml:"stats"`
	Accounts  []monitor.AccountView    `json:"accounts" yaml:"accounts"`
	Exposure  []account.SymbolExposure `json:"exposure" yaml:"exposure"`
}

// Source provides the state to export.
type Source interface {
	Stats() monitor.Stats
	AllSnapshots() []monitor.AccountView
	Exposure(symbol string) []account.SymbolExposure
}

// Collect reads the exported state from src.
func Collect(src Source) Document {
	return Document{
		Timestamp: time.Now().UTC(),
		Stats:     src.Stats(),
		Accounts:  src.AllSnapshots(),
		Exposure:  src.Exposure(""),
	}
}

// DefaultPath returns dir/rms_export_<unix>.json.
func DefaultPath(dir string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("rms_export_%d.json", at.Unix()))
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, &account.ValidationError{Field: "path", Reason: fmt.Sprintf("unsupported export format %q", filepath.Ext(path))}
	}
}

// Marshal encodes doc in the format implied by path's extension.
func Marshal(doc Document, path string) ([]byte, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	if f == formatYAML {
		return yaml.Marshal(doc)
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Write stores doc at path, creating parent directories.
func Write(doc Document, path string) error {
	data, err := Marshal(doc, path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// Read parses an export file written by Write.
func Read(path string) (Document, error) {
	var doc Document
	f, err := formatOf(path)
	if err != nil {
		return doc, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read export: %w", err)
	}
	if f == formatYAML {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return doc, fmt.Errorf("decode export: %w", err)
	}
	return doc, nil
}
