// Package harvest defines core types shared across subsystems.
package harvest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/courtdata/judgment-harvester/internal/hash/sha256"
)

// DateLayout is the canonical date form used in snapshots, window IDs, and logs.
const DateLayout = "2006-01-02"

// PortalDateLayout is the day-first form the portal uses in query fields and
// result rows.
const PortalDateLayout = "02-01-2006"

// DocumentContentType is the content type recorded for archived judgments.
const DocumentContentType = "application/pdf"

// WindowStatus represents the lifecycle state of a query window.
type WindowStatus string

// Window status values persisted in the progress snapshot.
const (
	WindowPending    WindowStatus = "pending"
	WindowInProgress WindowStatus = "in_progress"
	WindowDone       WindowStatus = "done"
	WindowFailed     WindowStatus = "failed"
)

// Valid reports whether the status is one of the persisted values.
func (s WindowStatus) Valid() bool {
	switch s {
	case WindowPending, WindowInProgress, WindowDone, WindowFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition applies.
func (s WindowStatus) Terminal() bool {
	return s == WindowDone || s == WindowFailed
}

// TaskStatus represents the reconciliation stage of a record task.
type TaskStatus string

// Task status values persisted in the progress snapshot.
const (
	TaskDiscovered        TaskStatus = "discovered"
	TaskDownloaded        TaskStatus = "downloaded"
	TaskMetadataPersisted TaskStatus = "metadata_persisted"
	TaskUploaded          TaskStatus = "uploaded"
	TaskFailed            TaskStatus = "failed"
)

// Valid reports whether the status is one of the persisted values.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskDiscovered, TaskDownloaded, TaskMetadataPersisted, TaskUploaded, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition applies.
func (s TaskStatus) Terminal() bool {
	return s == TaskUploaded || s == TaskFailed
}

// QueryWindow is one bounded date range submitted as a single portal query.
// Window identity is the (StartDate, EndDate) pair; the planner must reproduce
// identical boundaries across runs for snapshots to merge.
type QueryWindow struct {
	StartDate    time.Time
	EndDate      time.Time
	Status       WindowStatus
	AttemptCount int

	// Extra carries snapshot fields this build does not know about.
	// They round-trip untouched on re-save.
	Extra map[string]json.RawMessage
}

// ID returns the stable window identifier used by tasks and the snapshot.
func (w QueryWindow) ID() string {
	return w.StartDate.Format(DateLayout) + ".." + w.EndDate.Format(DateLayout)
}

// SpanDays returns the window length in calendar days.
func (w QueryWindow) SpanDays() int {
	return int(w.EndDate.Sub(w.StartDate).Hours() / 24)
}

var windowKnownKeys = map[string]struct{}{
	"start_date": {}, "end_date": {}, "status": {}, "attempt_count": {},
}

// MarshalJSON merges the known fields with any preserved unknown fields.
func (w QueryWindow) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(w.Extra)+len(windowKnownKeys))
	for k, v := range w.Extra {
		merged[k] = v
	}
	if err := putJSON(merged, "start_date", w.StartDate.Format(DateLayout)); err != nil {
		return nil, err
	}
	if err := putJSON(merged, "end_date", w.EndDate.Format(DateLayout)); err != nil {
		return nil, err
	}
	if err := putJSON(merged, "status", w.Status); err != nil {
		return nil, err
	}
	if err := putJSON(merged, "attempt_count", w.AttemptCount); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and stashes everything else in Extra.
func (w *QueryWindow) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode window: %w", err)
	}
	var known struct {
		StartDate    string       `json:"start_date"`
		EndDate      string       `json:"end_date"`
		Status       WindowStatus `json:"status"`
		AttemptCount int          `json:"attempt_count"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("decode window fields: %w", err)
	}
	start, err := time.Parse(DateLayout, known.StartDate)
	if err != nil {
		return fmt.Errorf("window start_date %q: %w", known.StartDate, err)
	}
	end, err := time.Parse(DateLayout, known.EndDate)
	if err != nil {
		return fmt.Errorf("window end_date %q: %w", known.EndDate, err)
	}
	w.StartDate = start
	w.EndDate = end
	w.Status = known.Status
	w.AttemptCount = known.AttemptCount
	w.Extra = extraFields(raw, windowKnownKeys)
	return nil
}

// ResultRow is one parsed row of the portal's judgment result table.
type ResultRow struct {
	SerialNumber         string   `json:"serial_number"`
	DiaryNumber          string   `json:"diary_number"`
	CaseNumber           string   `json:"case_number"`
	PetitionerRespondent string   `json:"petitioner_respondent"`
	Advocate             string   `json:"advocate"`
	Bench                string   `json:"bench"`
	JudgmentBy           string   `json:"judgment_by"`
	JudgmentDate         string   `json:"judgment_date"`
	DocumentLinks        []string `json:"document_links"`
}

// RecordKey derives the stable record identifier from the row's identifying
// fields. The same physical judgment maps to the same key however many times
// it is rediscovered.
func (r ResultRow) RecordKey() string {
	return sha256.Key(r.DiaryNumber, r.CaseNumber, r.JudgmentDate)
}

// DocumentURL returns the primary document link, or empty when the row
// carries none.
func (r ResultRow) DocumentURL() string {
	if len(r.DocumentLinks) == 0 {
		return ""
	}
	return r.DocumentLinks[0]
}

// RecordTask tracks one discovered record through the reconciliation stages.
type RecordTask struct {
	RecordKey    string
	WindowID     string
	Status       TaskStatus
	AttemptCount int
	ErrorMessage string

	// Row payload needed to resume without re-listing the window.
	DiaryNumber  string
	CaseNumber   string
	JudgmentDate string
	DocumentURL  string

	// Filled in as stages complete.
	ObjectURI   string
	FileSize    int64
	ContentHash string

	Extra map[string]json.RawMessage
}

var taskKnownKeys = map[string]struct{}{
	"record_key": {}, "window_id": {}, "status": {}, "attempt_count": {},
	"error_message": {}, "diary_number": {}, "case_number": {},
	"judgment_date": {}, "document_url": {}, "object_uri": {},
	"file_size": {}, "content_hash": {},
}

// MarshalJSON merges the known fields with any preserved unknown fields.
func (t RecordTask) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(t.Extra)+len(taskKnownKeys))
	for k, v := range t.Extra {
		merged[k] = v
	}
	pairs := []struct {
		key string
		val any
	}{
		{"record_key", t.RecordKey},
		{"window_id", t.WindowID},
		{"status", t.Status},
		{"attempt_count", t.AttemptCount},
		{"error_message", t.ErrorMessage},
		{"diary_number", t.DiaryNumber},
		{"case_number", t.CaseNumber},
		{"judgment_date", t.JudgmentDate},
		{"document_url", t.DocumentURL},
		{"object_uri", t.ObjectURI},
		{"file_size", t.FileSize},
		{"content_hash", t.ContentHash},
	}
	for _, p := range pairs {
		if err := putJSON(merged, p.key, p.val); err != nil {
			return nil, err
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and stashes everything else in Extra.
func (t *RecordTask) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	type alias struct {
		RecordKey    string     `json:"record_key"`
		WindowID     string     `json:"window_id"`
		Status       TaskStatus `json:"status"`
		AttemptCount int        `json:"attempt_count"`
		ErrorMessage string     `json:"error_message"`
		DiaryNumber  string     `json:"diary_number"`
		CaseNumber   string     `json:"case_number"`
		JudgmentDate string     `json:"judgment_date"`
		DocumentURL  string     `json:"document_url"`
		ObjectURI    string     `json:"object_uri"`
		FileSize     int64      `json:"file_size"`
		ContentHash  string     `json:"content_hash"`
	}
	var known alias
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("decode task fields: %w", err)
	}
	t.RecordKey = known.RecordKey
	t.WindowID = known.WindowID
	t.Status = known.Status
	t.AttemptCount = known.AttemptCount
	t.ErrorMessage = known.ErrorMessage
	t.DiaryNumber = known.DiaryNumber
	t.CaseNumber = known.CaseNumber
	t.JudgmentDate = known.JudgmentDate
	t.DocumentURL = known.DocumentURL
	t.ObjectURI = known.ObjectURI
	t.FileSize = known.FileSize
	t.ContentHash = known.ContentHash
	t.Extra = extraFields(raw, taskKnownKeys)
	return nil
}

// NewTask builds a Discovered task from a parsed result row.
func NewTask(windowID string, row ResultRow) RecordTask {
	return RecordTask{
		RecordKey:    row.RecordKey(),
		WindowID:     windowID,
		Status:       TaskDiscovered,
		DiaryNumber:  row.DiaryNumber,
		CaseNumber:   row.CaseNumber,
		JudgmentDate: row.JudgmentDate,
		DocumentURL:  row.DocumentURL(),
	}
}

// Court identifies the judicial source stamped into every metadata record.
type Court struct {
	Type         string
	Level        int
	Name         string
	Jurisdiction string
}

// JudgmentRecord is the metadata document upserted per record key.
type JudgmentRecord struct {
	RecordKey            string
	Court                Court
	SerialNumber         string
	DiaryNumber          string
	CaseNumber           string
	PetitionerRespondent string
	Advocate             string
	Bench                string
	JudgmentBy           string
	JudgmentDate         string
	DocumentLinks        []string
	ObjectBucket         string
	ObjectKey            string
	ObjectURI            string
	FileSize             int64
	ContentHash          string
	SearchFromDate       string
	SearchToDate         string
	ScrapedAt            time.Time
}

// ObjectKey derives the deterministic storage key for a record. Documents are
// laid out by judgment year and month under the configured prefix; rows whose
// date cannot be parsed land in the 0000/00 segment rather than drifting with
// the wall clock.
func ObjectKey(prefix, judgmentDate, recordKey string) string {
	year, month := "0000", "00"
	for _, layout := range []string{PortalDateLayout, DateLayout} {
		if d, err := time.Parse(layout, judgmentDate); err == nil {
			year = d.Format("2006")
			month = d.Format("01")
			break
		}
	}
	return fmt.Sprintf("%s%s/%s/%s.pdf", prefix, year, month, recordKey)
}

func putJSON(m map[string]json.RawMessage, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m[key] = b
	return nil
}

func extraFields(raw map[string]json.RawMessage, known map[string]struct{}) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for k, v := range raw {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra
}
