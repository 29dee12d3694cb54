package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

// printResult writes v in the selected output format. YAML goes through the
// JSON encoding first so field names match the API.
func printResult(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	switch format {
	case "", "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

// statusError turns a non-success dispatch status into a non-zero exit.
func statusError(status domain.Status) error {
	if status == domain.StatusSucceeded {
		return nil
	}
	return fmt.Errorf("operation finished with status %s", status)
}

// readDocument loads a JSON or YAML file into out. "-" reads stdin.
func readDocument(path string, out any) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	return decodeDocument(path, data, out)
}

func readFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func decodeDocument(path string, data []byte, out any) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return fmt.Errorf("converting %s: %w", path, err)
		}
		data = converted
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
