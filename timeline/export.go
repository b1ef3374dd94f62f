package timeline

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/utils/json"
)

// ExportJSON serializes the execution's timeline. Exporting, importing, and
// exporting again yields byte-identical output.
func (m *Manager) ExportJSON(executionID string) ([]byte, error) {
	tl, ok := m.Get(executionID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "timeline not found").
			WithComponent("timeline").
			WithOperation("export_json").
			WithContext("execution_id", executionID)
	}
	data, err := json.MarshalIndent(tl, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreSerialization, "failed to serialize timeline").
			WithComponent("timeline").
			WithOperation("export_json").
			WithContext("execution_id", executionID)
	}
	return data, nil
}

// ImportJSON registers a previously exported timeline, replacing any existing
// timeline for the same execution.
func (m *Manager) ImportJSON(data []byte) (*Timeline, error) {
	var tl Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreSerialization, "failed to parse timeline").
			WithComponent("timeline").
			WithOperation("import_json")
	}
	if tl.ExecutionID == "" {
		return nil, errors.New(errors.CodeInvalidInput, "timeline has no execution id").
			WithComponent("timeline").
			WithOperation("import_json")
	}

	m.mu.Lock()
	m.timelines[tl.ExecutionID] = tl.clone()
	m.mu.Unlock()
	return &tl, nil
}

// ExportCSV renders the entry log as CSV with one row per entry.
func (m *Manager) ExportCSV(executionID string) ([]byte, error) {
	tl, ok := m.Get(executionID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "timeline not found").
			WithComponent("timeline").
			WithOperation("export_csv").
			WithContext("execution_id", executionID)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "timestamp", "state", "event_type", "correlation_id", "duration_ms"})
	for _, e := range tl.Entries {
		_ = w.Write([]string{
			e.ID,
			e.Timestamp.Format(time.RFC3339Nano),
			string(e.State),
			e.EventType,
			e.CorrelationID,
			strconv.FormatFloat(float64(e.Duration)/float64(time.Millisecond), 'f', 3, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreSerialization, "failed to write CSV").
			WithComponent("timeline").
			WithOperation("export_csv").
			WithContext("execution_id", executionID)
	}
	return buf.Bytes(), nil
}
