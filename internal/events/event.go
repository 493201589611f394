// Package events defines the lifecycle event stream emitted by the harvest
// loop and fans it out to sinks without ever blocking the loop.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindRunStart      Kind = "RUN_START"
	KindRunDone       Kind = "RUN_DONE"
	KindWindowStart   Kind = "WINDOW_START"
	KindWindowDone    Kind = "WINDOW_DONE"
	KindWindowDefer   Kind = "WINDOW_DEFER"
	KindWindowFailed  Kind = "WINDOW_FAILED"
	KindTaskStage     Kind = "TASK_STAGE"
	KindTaskTerminal  Kind = "TASK_TERMINAL"
	KindCaptchaSolved Kind = "CAPTCHA_SOLVED"
)

// Event captures a single harvest milestone.
type Event struct {
	// RunID identifies the campaign run emitting the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which milestone occurred.
	Kind Kind
	// WindowID scopes window and task events to a query window.
	WindowID string
	// RecordKey scopes task events to a record.
	RecordKey string
	// Status carries the resulting window/task status for terminal events.
	Status string
	// Stage names the reconciliation stage for TASK_STAGE events.
	Stage string
	// Bytes carries the document size for download stages.
	Bytes int64
	// Dur captures execution latency where the emitter measured one.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart, KindRunDone:
	case KindWindowStart, KindWindowDone, KindWindowDefer, KindWindowFailed:
		if e.WindowID == "" {
			return errors.New("window event requires window id")
		}
	case KindTaskStage:
		if e.RecordKey == "" || e.Stage == "" {
			return errors.New("task stage event requires record key and stage")
		}
	case KindTaskTerminal:
		if e.RecordKey == "" || e.Status == "" {
			return errors.New("task terminal event requires record key and status")
		}
	case KindCaptchaSolved:
		if e.WindowID == "" {
			return errors.New("captcha event requires window id")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
