package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Output writes data to stdout in the requested machine format.
// It returns false for FormatText so the caller renders its own view.
func Output(format string, data any) (bool, error) {
	return WriteOutput(os.Stdout, format, data)
}

// WriteOutput is Output with an explicit destination
func WriteOutput(w io.Writer, format string, data any) (bool, error) {
	switch format {
	case "", FormatText:
		return false, nil
	case FormatJSON:
		out, err := MarshalJSON(data)
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprintln(w, string(out))
		return true, err
	case FormatYAML:
		out, err := MarshalYAML(data)
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprint(w, string(out))
		return true, err
	default:
		return true, fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
	}
}

// MarshalJSON marshals the provided data as indented JSON
func MarshalJSON(data any) ([]byte, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return jsonData, nil
}

// MarshalYAML marshals the provided data as YAML
func MarshalYAML(data any) ([]byte, error) {
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return yamlData, nil
}
