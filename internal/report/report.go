// Package report implements component B of SPEC_FULL.md: the directory-
// based, atomic-write, schema-validated report store (spec.md §4.2).
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"lymbo/internal/model"
)

// Version is the report-record schema version stamped into every record.
const Version = "1"

// schemaJSON is the draft-07 JSON Schema every record is validated
// against on read (spec.md §4.2's record shape, plus the ambient
// addition noted in SPEC_FULL.md §4.2: "readers that see a record
// failing schema validation treat it as 'not yet written' and retry").
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["lymbo", "test"],
  "properties": {
    "lymbo": {"type": "string"},
    "test": {
      "type": "object",
      "required": ["name", "uuid", "status", "start_at", "end_at", "output", "error"],
      "properties": {
        "name":     {"type": "string"},
        "uuid":     {"type": "string"},
        "status":   {"type": "string"},
        "start_at": {"type": "string"},
        "end_at":   {"type": "string"},
        "output":   {"type": "string"},
        "error": {
          "type": "object",
          "required": ["reason", "error_message", "traceback"],
          "properties": {
            "reason":        {"type": "string"},
            "error_message": {"type": "array", "items": {"type": "string"}},
            "traceback":     {"type": "array", "items": {"type": "string"}},
            "location": {
              "type": "object",
              "required": ["file", "line"],
              "properties": {
                "file":           {"type": "string"},
                "line":           {"type": "integer"},
                "context_pre":    {"type": "array", "items": {"type": "string"}},
                "offending_line": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

// Record is the on-disk shape of one report file (spec.md §4.2).
type Record struct {
	Lymbo string     `json:"lymbo"`
	Test  RecordTest `json:"test"`
}

// RecordTest is the "test" object nested in a Record.
type RecordTest struct {
	Name    string            `json:"name"`
	UUID    string            `json:"uuid"`
	Status  model.Status      `json:"status"`
	StartAt time.Time         `json:"start_at"`
	EndAt   time.Time         `json:"end_at"`
	Output  string            `json:"output"`
	Error   model.ErrorDetail `json:"error"`
}

// Store is a directory of lymbo-<uuid>.json report files.
type Store struct {
	dir string
}

// Open creates dir if missing and removes any pre-existing lymbo-*
// entries (spec.md §4.2: "cleaned of prior lymbo-* entries at start").
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: creating store directory: %w", err)
	}
	s := &Store{dir: dir}
	if err := s.clean(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) clean() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "lymbo-*"))
	if err != nil {
		return fmt.Errorf("report: globbing store directory: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("report: removing stale record %s: %w", m, err)
		}
	}
	return nil
}

// Dir returns the store's directory path.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(uuid string) string {
	return filepath.Join(s.dir, "lymbo-"+uuid+".json")
}

// Write persists one TestItem's terminal state as a report record. The
// write is write-temp-then-rename so a concurrent reader either sees a
// complete, schema-valid file or no file at all — never a partial one
// (spec.md §4.2: "Writes are always write temp -> rename temp to
// final"). Only the owning executor ever writes a given uuid's record.
func (s *Store) Write(item *model.TestItem) error {
	errorMessage, traceback := item.ErrorMessage, item.Traceback
	if errorMessage == nil {
		errorMessage = []string{}
	}
	if traceback == nil {
		traceback = []string{}
	}
	rec := Record{
		Lymbo: Version,
		Test: RecordTest{
			Name:    item.DisplayName,
			UUID:    item.UUID,
			Status:  item.Status,
			StartAt: item.StartAt,
			EndAt:   item.EndAt,
			Output:  item.Output,
			Error: model.ErrorDetail{
				Reason:       item.Reason,
				ErrorMessage: errorMessage,
				Traceback:    traceback,
				Location:     item.Location,
			},
		},
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("report: marshaling record for %s: %w", item.UUID, err)
	}

	final := s.path(item.UUID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("report: writing temp record for %s: %w", item.UUID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("report: renaming record for %s: %w", item.UUID, err)
	}
	return nil
}

// Read loads and schema-validates one record. ErrNotReady is returned
// both when the file does not yet exist and when it fails schema
// validation (spec.md §4.2's atomic-rename invariant means a record is
// either schema-valid or absent; any other observation is a reader that
// arrived mid-rename and should retry).
var ErrNotReady = fmt.Errorf("report: record not ready")

func (s *Store) Read(uuid string) (*Record, error) {
	data, err := os.ReadFile(s.path(uuid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotReady
		}
		return nil, fmt.Errorf("report: reading record for %s: %w", uuid, err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("report: validating record for %s: %w", uuid, err)
	}
	if !result.Valid() {
		return nil, ErrNotReady
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrNotReady
	}
	return &rec, nil
}

// ReadWithRetry polls Read until the record is ready, an unrecoverable
// error occurs, or ctx-equivalent deadline elapses. Callers needing
// cancellation should wrap this with their own timeout; the poll
// interval matches the broker's 100ms cadence (spec.md §4.7, §9).
const pollInterval = 100 * time.Millisecond

func (s *Store) ReadWithRetry(uuid string, timeout time.Duration) (*Record, error) {
	deadline := time.Now().Add(timeout)
	for {
		rec, err := s.Read(uuid)
		if err == nil {
			return rec, nil
		}
		if err != ErrNotReady {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("report: timed out waiting for record %s: %w", uuid, ErrNotReady)
		}
		time.Sleep(pollInterval)
	}
}
