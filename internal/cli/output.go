// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-encstore.
//
// go-encstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintValue prints a decrypted value. Text output writes the raw bytes;
// JSON output base64-encodes them.
func (p *Printer) PrintValue(name string, value []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"name":  name,
			"value": base64.StdEncoding.EncodeToString(value),
		})
	default:
		_, err := p.writer.Write(value)
		return err
	}
}

// PrintExists prints whether an entry is present.
func (p *Printer) PrintExists(name string, present bool) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{"name": name, "exists": present})
	default:
		_, err := fmt.Fprintln(p.writer, present)
		return err
	}
}

// PrintCount prints the number of stored entries.
func (p *Printer) PrintCount(n int) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{"count": n})
	default:
		_, err := fmt.Fprintln(p.writer, n)
		return err
	}
}

// PrintHash prints the record key derived for a name.
func (p *Printer) PrintHash(name, id string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{"name": name, "id": id})
	default:
		_, err := fmt.Fprintln(p.writer, id)
		return err
	}
}

// PrintWatchEvent prints one watch notification. Absent entries print
// as an empty line in text mode.
func (p *Printer) PrintWatchEvent(name string, present bool, value []byte, werr error) error {
	switch p.format {
	case OutputFormatJSON:
		ev := map[string]any{"name": name, "present": present}
		if present {
			ev["value"] = base64.StdEncoding.EncodeToString(value)
		}
		if werr != nil {
			ev["error"] = werr.Error()
		}
		return p.printJSON(ev)
	default:
		if werr != nil {
			_, err := fmt.Fprintf(p.writer, "error: %v\n", werr)
			return err
		}
		if !present {
			_, err := fmt.Fprintln(p.writer)
			return err
		}
		_, err := fmt.Fprintf(p.writer, "%s\n", value)
		return err
	}
}

// PrintList prints a titled list of names.
func (p *Printer) PrintList(title string, items []string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{title: items})
	default:
		for _, item := range items {
			if _, err := fmt.Fprintf(p.writer, "  - %s\n", item); err != nil {
				return err
			}
		}
		return nil
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status":  "success",
			"message": message,
		})
	default:
		_, err := fmt.Fprintln(p.writer, message)
		return err
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		_, werr := fmt.Fprintf(p.writer, "Error: %v\n", err)
		return werr
	}
}

func (p *Printer) printJSON(v any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
