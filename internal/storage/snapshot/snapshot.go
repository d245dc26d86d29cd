package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/mauzec/task-manager/internal/core"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed task.schema.json
var taskSchemaJSON []byte

const taskSchemaURL = "https://github.com/mauzec/task-manager/task.schema.json"

var (
	schemaOnce sync.Once
	taskSchema *jsonschema.Schema
	schemaErr  error
)

// Document is the persisted state: the sole unit of persistence.
type Document struct {
	Tasks   []*core.Task `json:"tasks" yaml:"tasks"`
	Order   []int64      `json:"order" yaml:"order"`
	Counter int64        `json:"counter" yaml:"counter"`
}

// SkippedRecord describes a task record that was left out while decoding.
type SkippedRecord struct {
	Index  int
	Reason string
}

// Decoded is a tolerant view of a persisted document.
// Order and Counter are raw: healing them against the tasks is up to the caller.
type Decoded struct {
	Tasks []*core.Task
	Order []int64
	// Counter is nil when the persisted value is missing or not an integer >= 0.
	Counter *int64
	Skipped []SkippedRecord
}

type rawDocument struct {
	Tasks   []json.RawMessage `json:"tasks"`
	Order   []json.RawMessage `json:"order"`
	Counter json.RawMessage   `json:"counter"`
}

type persistedTask struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	Description *string     `json:"description"`
	Completed   bool        `json:"completed"`
	CreatedAt   *string     `json:"created_at"`
	CompletedAt *string     `json:"completed_at"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	// written by schemas that stored naive UTC timestamps
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Encode serializes the document with two-space indentation.
func Encode(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("snapshot: got nil document")
	}
	out := Document{
		Tasks:   doc.Tasks,
		Order:   doc.Order,
		Counter: doc.Counter,
	}
	if out.Tasks == nil {
		out.Tasks = []*core.Task{}
	}
	if out.Order == nil {
		out.Order = []int64{}
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return data, nil
}

// Decode parses a persisted document. It fails only when the document itself is corrupt;
// every task record is validated on its own and bad ones end up in Skipped.
func Decode(data []byte, now time.Time) (*Decoded, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("snapshot: empty document")
	}
	sch, err := compiledTaskSchema()
	if err != nil {
		return nil, err
	}

	raw := rawDocument{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}

	res := &Decoded{
		Tasks: make([]*core.Task, 0, len(raw.Tasks)),
		Order: make([]int64, 0, len(raw.Order)),
	}
	for i, rec := range raw.Tasks {
		t, err := decodeTask(sch, rec, now)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedRecord{Index: i, Reason: err.Error()})
			continue
		}
		res.Tasks = append(res.Tasks, t)
	}
	for _, rawID := range raw.Order {
		if id, ok := rawInteger(rawID); ok {
			res.Order = append(res.Order, id)
		}
	}
	if counter, ok := rawInteger(raw.Counter); ok && counter >= 0 {
		res.Counter = &counter
	}
	return res, nil
}

// rawInteger reads a JSON number with no fractional part, so 3 and 3.0 are both 3.
// Strings, null and anything outside int64 are rejected.
func rawInteger(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil || n == "" {
		return 0, false
	}
	return integralNumber(n)
}

func integralNumber(n json.Number) (int64, bool) {
	if v, err := n.Int64(); err == nil {
		return v, true
	}
	r, ok := new(big.Rat).SetString(n.String())
	if !ok || !r.IsInt() || !r.Num().IsInt64() {
		return 0, false
	}
	return r.Num().Int64(), true
}

func decodeTask(sch *jsonschema.Schema, rec json.RawMessage, now time.Time) (*core.Task, error) {
	var inst any
	dec := json.NewDecoder(bytes.NewReader(rec))
	dec.UseNumber()
	if err := dec.Decode(&inst); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, errors.New(firstCause(ve))
		}
		return nil, err
	}

	p := persistedTask{}
	err := json.Unmarshal(rec, &p)
	if err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}

	id, ok := integralNumber(p.ID)
	if !ok {
		return nil, fmt.Errorf("id %s is not an integer", p.ID)
	}
	t := &core.Task{
		ID:          id,
		Title:       p.Title,
		Description: p.Description,
		Completed:   p.Completed,
		CreatedAt:   now.UTC(),
	}
	if p.CreatedAt != nil && *p.CreatedAt != "" {
		if t.CreatedAt, err = parseTimestamp(*p.CreatedAt); err != nil {
			return nil, err
		}
	}
	if !t.Completed {
		return t, nil
	}
	at := t.CreatedAt
	if p.CompletedAt != nil && *p.CompletedAt != "" {
		if at, err = parseTimestamp(*p.CompletedAt); err != nil {
			return nil, err
		}
	}
	t.CompletedAt = &at
	return t, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

// firstCause walks down to the deepest cause, it names the offending field.
func firstCause(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}

func compiledTaskSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(taskSchemaURL, bytes.NewReader(taskSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("snapshot: add task schema: %w", err)
			return
		}
		taskSchema, schemaErr = c.Compile(taskSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("snapshot: compile task schema: %w", schemaErr)
		}
	})
	return taskSchema, schemaErr
}
