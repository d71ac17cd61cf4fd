package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/monitor"
)

// Format of a structured export.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("unsupported export format %q (want json or yaml)", s), "format", s)
	}
}

// Extension returns the file extension for f.
func (f Format) Extension() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// EncodeSnapshot writes snap in the requested format.
func EncodeSnapshot(w io.Writer, snap monitor.Snapshot, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.NewConfigFieldError(errors.CodeValidation, "unsupported export format", "format", string(format))
	}
}
