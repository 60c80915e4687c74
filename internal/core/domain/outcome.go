package domain

import (
	"fmt"
	"sync"
	"time"
)

// OutcomeKind classifies one RunLog entry.
type OutcomeKind string

const (
	OutcomeSaved         OutcomeKind = "saved"
	OutcomeDuplicate     OutcomeKind = "duplicate"
	OutcomeBlobEmpty     OutcomeKind = "blob_empty"
	OutcomeBlobError     OutcomeKind = "blob_error"
	OutcomeStoreError    OutcomeKind = "store_error"
	OutcomeNoContent     OutcomeKind = "no_content"
	OutcomeCategoryError OutcomeKind = "category_error"
	OutcomeMorePages     OutcomeKind = "more_pages"
	OutcomeMissingRole   OutcomeKind = "missing_role"
)

// Outcome is one entry of the RunLog.
type Outcome struct {
	Kind       OutcomeKind
	Category   Category
	ContentURI string
	Path       string
	Err        error
	// Role names the application role a token lacks (OutcomeMissingRole).
	Role       string
	// Window bounds, set for OutcomeNoContent.
	Start, End time.Time
}

// IsError reports whether the outcome records a failure.
func (o Outcome) IsError() bool {
	switch o.Kind {
	case OutcomeBlobError, OutcomeStoreError, OutcomeCategoryError:
		return true
	}
	return false
}

// String renders the human-readable RunLog line.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSaved:
		return fmt.Sprintf("Saving data blob to: %s", o.Path)
	case OutcomeDuplicate:
		return fmt.Sprintf("Data already retrieved: %s", o.Path)
	case OutcomeBlobEmpty:
		return fmt.Sprintf("No data returned from %s", o.ContentURI)
	case OutcomeBlobError:
		return fmt.Sprintf("Request error: %v", o.Err)
	case OutcomeStoreError:
		return fmt.Sprintf("Storage error for %s: %v", o.ContentURI, o.Err)
	case OutcomeNoContent:
		return fmt.Sprintf("No logs found for %s between %s and %s",
			o.Category, o.Start.Format(time.RFC3339), o.End.Format(time.RFC3339))
	case OutcomeCategoryError:
		return o.Err.Error()
	case OutcomeMorePages:
		return fmt.Sprintf("More content available for %s beyond the first page (not retrieved)", o.Category)
	case OutcomeMissingRole:
		return fmt.Sprintf("Access token has no %s role; listing %s will likely be refused (check API permissions and admin consent)", o.Role, o.Category)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.ContentURI)
}

// RunLog is the ordered, append-only record of one run.
type RunLog struct {
	mu      sync.Mutex
	entries []Outcome
}

// Append adds outcomes in order.
func (l *RunLog) Append(outcomes ...Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, outcomes...)
}

// Entries returns a copy of the log.
func (l *RunLog) Entries() []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Outcome, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lines returns the log as human-readable strings.
func (l *RunLog) Lines() []string {
	entries := l.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// Count returns how many entries have the given kind.
func (l *RunLog) Count(kind OutcomeKind) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// RunResult holds the outcome of a completed run.
type RunResult struct {
	RunID       string
	Config      RunConfig
	Destination string
	Log         *RunLog
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
}

// Success reports whether the run finished without a fatal error.
func (r *RunResult) Success() bool {
	return r.Err == nil
}
