package registry

import (
	"fmt"
	"strings"
	"time"

	"pyxis/internal/field"
)

// Status represents the lifecycle of an ingestion batch.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AllStatuses lists every batch status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
}

// ParseStatus converts a status name into a Status.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range AllStatuses() {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown batch status %q", value)
}

// CanTransition reports whether a batch may move from one status to another.
// A processing or completed batch is never restarted.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusPending
	default:
		return false
	}
}

// Terminal reports statuses a worker will not pick up again on its own.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NewBatch carries an upload into the registry.
type NewBatch struct {
	SourceName      string
	RecordID        string
	Version         string
	Alias           string
	FileName        string
	Mapping         []byte
	Payload         []byte
	DataChecksum    string
	MappingChecksum string
}

// Batch is one ingestion unit of work.
type Batch struct {
	ID                int64
	Status            Status
	ErrorMessage      string
	SourceName        string
	RecordID          string
	Version           string
	Alias             string
	FileName          string
	Mapping           []byte
	Payload           []byte
	DataChecksum      string
	MappingChecksum   string
	Rows              int
	TouchedIdentities int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
}

// Diagnostic kinds recorded against a batch.
const (
	DiagnosticConversion = "conversion"
	DiagnosticAmbiguity  = "ambiguity"
	DiagnosticGeometry   = "geometry"
	DiagnosticRow        = "row"
)

// Diagnostic is a recovered, row-level problem noted during processing.
type Diagnostic struct {
	ID        int64
	BatchID   int64
	Row       int
	Kind      string
	Attribute string
	Message   string
	CreatedAt time.Time
}

// Completion is the outcome recorded when a batch finishes successfully.
type Completion struct {
	Rows              int
	TouchedIdentities int
	Diagnostics       []Diagnostic
}

// NewIdentity is the seed of an identity created on a no-match decision.
type NewIdentity struct {
	Name         string
	Country      string
	CentroidCell string
}

// Filter narrows identity listings.
type Filter struct {
	Country string
	// Name matches case-insensitively anywhere in the identity name.
	Name  string
	Limit int
}

// Nearby is an identity with its grid distance, in cells, from a query point.
type Nearby struct {
	Identity field.Identity
	Distance int
}
