package harvest

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SnapshotSchemaVersion is the snapshot document version this build writes.
const SnapshotSchemaVersion = 1

// CampaignInfo pins the snapshot to the range it was planned for.
type CampaignInfo struct {
	GlobalStart time.Time
	GlobalEnd   time.Time
	MaxSpanDays int
	CourtType   string
}

var campaignKnownKeys = map[string]struct{}{
	"global_start": {}, "global_end": {}, "max_span_days": {}, "court_type": {},
}

// MarshalJSON encodes dates in the canonical date-only form.
func (c CampaignInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"global_start":  c.GlobalStart.Format(DateLayout),
		"global_end":    c.GlobalEnd.Format(DateLayout),
		"max_span_days": c.MaxSpanDays,
		"court_type":    c.CourtType,
	})
}

// UnmarshalJSON decodes the canonical date-only form.
func (c *CampaignInfo) UnmarshalJSON(data []byte) error {
	var known struct {
		GlobalStart string `json:"global_start"`
		GlobalEnd   string `json:"global_end"`
		MaxSpanDays int    `json:"max_span_days"`
		CourtType   string `json:"court_type"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("decode campaign: %w", err)
	}
	start, err := time.Parse(DateLayout, known.GlobalStart)
	if err != nil {
		return fmt.Errorf("campaign global_start %q: %w", known.GlobalStart, err)
	}
	end, err := time.Parse(DateLayout, known.GlobalEnd)
	if err != nil {
		return fmt.Errorf("campaign global_end %q: %w", known.GlobalEnd, err)
	}
	c.GlobalStart = start
	c.GlobalEnd = end
	c.MaxSpanDays = known.MaxSpanDays
	c.CourtType = known.CourtType
	return nil
}

// Snapshot is the single serializable structure holding all mutable campaign
// progress. It is the sole unit of crash recovery: every durable state
// transition rewrites the whole document atomically.
type Snapshot struct {
	SchemaVersion int
	Campaign      CampaignInfo
	LastRunID     string
	UpdatedAt     time.Time
	Windows       []QueryWindow
	Tasks         []RecordTask

	Extra map[string]json.RawMessage
}

var snapshotKnownKeys = map[string]struct{}{
	"schema_version": {}, "campaign": {}, "last_run_id": {}, "updated_at": {},
	"windows": {}, "tasks": {},
}

// NewSnapshot seeds a fresh snapshot from planned windows.
func NewSnapshot(campaign CampaignInfo, windows []QueryWindow) *Snapshot {
	return &Snapshot{
		SchemaVersion: SnapshotSchemaVersion,
		Campaign:      campaign,
		Windows:       append([]QueryWindow(nil), windows...),
	}
}

// MarshalJSON merges the known fields with any preserved unknown fields.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(s.Extra)+len(snapshotKnownKeys))
	for k, v := range s.Extra {
		merged[k] = v
	}
	pairs := []struct {
		key string
		val any
	}{
		{"schema_version", s.SchemaVersion},
		{"campaign", s.Campaign},
		{"last_run_id", s.LastRunID},
		{"updated_at", s.UpdatedAt},
		{"windows", s.Windows},
		{"tasks", s.Tasks},
	}
	for _, p := range pairs {
		if err := putJSON(merged, p.key, p.val); err != nil {
			return nil, err
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and stashes everything else in Extra.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	var known struct {
		SchemaVersion int           `json:"schema_version"`
		Campaign      CampaignInfo  `json:"campaign"`
		LastRunID     string        `json:"last_run_id"`
		UpdatedAt     time.Time     `json:"updated_at"`
		Windows       []QueryWindow `json:"windows"`
		Tasks         []RecordTask  `json:"tasks"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("decode snapshot fields: %w", err)
	}
	s.SchemaVersion = known.SchemaVersion
	s.Campaign = known.Campaign
	s.LastRunID = known.LastRunID
	s.UpdatedAt = known.UpdatedAt
	s.Windows = known.Windows
	s.Tasks = known.Tasks
	s.Extra = extraFields(raw, snapshotKnownKeys)
	return nil
}

// Reconcile merges freshly planned windows into the snapshot by window
// identity. Persisted windows keep their saved status verbatim; planned
// windows absent from the snapshot are added Pending; persisted windows the
// new plan no longer contains are kept. Windows end up ordered by start date.
func (s *Snapshot) Reconcile(planned []QueryWindow) {
	existing := make(map[string]struct{}, len(s.Windows))
	for _, w := range s.Windows {
		existing[w.ID()] = struct{}{}
	}
	for _, p := range planned {
		if _, ok := existing[p.ID()]; ok {
			continue
		}
		p.Status = WindowPending
		p.AttemptCount = 0
		s.Windows = append(s.Windows, p)
	}
	sort.SliceStable(s.Windows, func(i, j int) bool {
		if s.Windows[i].StartDate.Equal(s.Windows[j].StartDate) {
			return s.Windows[i].EndDate.Before(s.Windows[j].EndDate)
		}
		return s.Windows[i].StartDate.Before(s.Windows[j].StartDate)
	})
}

// Window returns a pointer to the window with the given ID, or nil.
func (s *Snapshot) Window(id string) *QueryWindow {
	for i := range s.Windows {
		if s.Windows[i].ID() == id {
			return &s.Windows[i]
		}
	}
	return nil
}

// Task returns a pointer to the task with the given record key, or nil.
func (s *Snapshot) Task(recordKey string) *RecordTask {
	for i := range s.Tasks {
		if s.Tasks[i].RecordKey == recordKey {
			return &s.Tasks[i]
		}
	}
	return nil
}

// UpsertTask returns the existing task for the row's record key, or appends
// a freshly Discovered one. An existing task keeps its stage: rediscovery
// never regresses progress.
func (s *Snapshot) UpsertTask(windowID string, row ResultRow) *RecordTask {
	if t := s.Task(row.RecordKey()); t != nil {
		return t
	}
	s.Tasks = append(s.Tasks, NewTask(windowID, row))
	return &s.Tasks[len(s.Tasks)-1]
}

// TasksForWindow returns pointers to every task owned by the window.
func (s *Snapshot) TasksForWindow(windowID string) []*RecordTask {
	var out []*RecordTask
	for i := range s.Tasks {
		if s.Tasks[i].WindowID == windowID {
			out = append(out, &s.Tasks[i])
		}
	}
	return out
}

// MarkWindowDone transitions the window to Done. Completion is computed from
// task states: the call refuses when any owned task is still non-terminal, so
// a half-finished window can never be persisted as Done.
func (s *Snapshot) MarkWindowDone(windowID string) error {
	w := s.Window(windowID)
	if w == nil {
		return fmt.Errorf("unknown window %s", windowID)
	}
	for _, t := range s.TasksForWindow(windowID) {
		if !t.Status.Terminal() {
			return fmt.Errorf("window %s has non-terminal task %s (%s)", windowID, t.RecordKey, t.Status)
		}
	}
	w.Status = WindowDone
	return nil
}

// ResetTask returns a Failed task to Discovered so a later run picks it up
// again. This is the explicit operator override; nothing resets Failed tasks
// automatically.
func (s *Snapshot) ResetTask(recordKey string) error {
	t := s.Task(recordKey)
	if t == nil {
		return fmt.Errorf("unknown task %s", recordKey)
	}
	if t.Status != TaskFailed {
		return fmt.Errorf("task %s is %s, only failed tasks can be reset", recordKey, t.Status)
	}
	t.Status = TaskDiscovered
	t.AttemptCount = 0
	t.ErrorMessage = ""
	return nil
}

// ResetWindow returns a Failed window to Pending with a zeroed attempt count.
func (s *Snapshot) ResetWindow(windowID string) error {
	w := s.Window(windowID)
	if w == nil {
		return fmt.Errorf("unknown window %s", windowID)
	}
	if w.Status != WindowFailed {
		return fmt.Errorf("window %s is %s, only failed windows can be reset", windowID, w.Status)
	}
	w.Status = WindowPending
	w.AttemptCount = 0
	return nil
}

// AllWindowsTerminal reports whether the campaign has nothing left to do.
func (s *Snapshot) AllWindowsTerminal() bool {
	for _, w := range s.Windows {
		if !w.Status.Terminal() {
			return false
		}
	}
	return true
}

// Summary holds the aggregate counts served by the status API and stats
// command.
type Summary struct {
	WindowCounts map[WindowStatus]int `json:"window_counts"`
	TaskCounts   map[TaskStatus]int   `json:"task_counts"`
	UpdatedAt    time.Time            `json:"updated_at"`
	LastRunID    string               `json:"last_run_id"`
}

// Summarize computes aggregate counts for reporting.
func (s *Snapshot) Summarize() Summary {
	sum := Summary{
		WindowCounts: make(map[WindowStatus]int),
		TaskCounts:   make(map[TaskStatus]int),
		UpdatedAt:    s.UpdatedAt,
		LastRunID:    s.LastRunID,
	}
	for _, w := range s.Windows {
		sum.WindowCounts[w.Status]++
	}
	for _, t := range s.Tasks {
		sum.TaskCounts[t.Status]++
	}
	return sum
}

// Clone deep-copies the snapshot via its JSON form, preserving Extra fields.
func (s *Snapshot) Clone() (*Snapshot, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone snapshot: %w", err)
	}
	var out Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone snapshot: %w", err)
	}
	return &out, nil
}

// Validate runs the internal consistency checks a snapshot must pass before
// it is trusted. Violations mean the durable state is corrupt; callers
// surface them rather than repairing silently.
func (s *Snapshot) Validate() error {
	if s.SchemaVersion != SnapshotSchemaVersion {
		return fmt.Errorf("unsupported schema version %d", s.SchemaVersion)
	}
	windowIDs := make(map[string]struct{}, len(s.Windows))
	for _, w := range s.Windows {
		if !w.Status.Valid() {
			return fmt.Errorf("window %s has unknown status %q", w.ID(), w.Status)
		}
		if w.EndDate.Before(w.StartDate) {
			return fmt.Errorf("window %s ends before it starts", w.ID())
		}
		if _, dup := windowIDs[w.ID()]; dup {
			return fmt.Errorf("duplicate window %s", w.ID())
		}
		windowIDs[w.ID()] = struct{}{}
	}
	taskKeys := make(map[string]struct{}, len(s.Tasks))
	for _, t := range s.Tasks {
		if !t.Status.Valid() {
			return fmt.Errorf("task %s has unknown status %q", t.RecordKey, t.Status)
		}
		if t.RecordKey == "" {
			return fmt.Errorf("task with empty record key in window %s", t.WindowID)
		}
		if _, dup := taskKeys[t.RecordKey]; dup {
			return fmt.Errorf("duplicate task %s", t.RecordKey)
		}
		taskKeys[t.RecordKey] = struct{}{}
		if _, ok := windowIDs[t.WindowID]; !ok {
			return fmt.Errorf("task %s references unknown window %s", t.RecordKey, t.WindowID)
		}
	}
	for _, w := range s.Windows {
		if w.Status != WindowDone {
			continue
		}
		for _, t := range s.Tasks {
			if t.WindowID == w.ID() && !t.Status.Terminal() {
				return fmt.Errorf("done window %s has non-terminal task %s", w.ID(), t.RecordKey)
			}
		}
	}
	return nil
}
