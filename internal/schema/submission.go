// Package schema provides data structures for fleet-status submissions and
// the unit roster.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks whether a submission has been pushed to the remote endpoint.
//
// A submission is created as StatusPending and transitions to StatusSynced
// exactly once, either after an apparently-successful push or when the same
// record arrives from the remote side. The transition never reverses.
type SyncStatus string

const (
	// StatusPending indicates the submission is stored locally but not yet
	// confirmed pushed to the remote endpoint.
	StatusPending SyncStatus = "pending"
	// StatusSynced indicates the submission has been pushed, or arrived from
	// the remote endpoint.
	StatusSynced SyncStatus = "synced"
)

// VehicleStatus is one entry of a submission's vehicle checklist.
type VehicleStatus struct {
	Plate         string `json:"plate"`
	Category      string `json:"category"`
	Running       bool   `json:"running"`
	Justification string `json:"justification,omitempty"` // required by the form when Running is false
}

// Incident captures the free-form incident report attached to a submission.
type Incident struct {
	Description      string   `json:"description"`
	MediaAttachments []string `json:"mediaAttachments,omitempty"` // inline-encoded images
}

// Submission is one field-collected report of fleet status for a given
// operational unit and date.
//
// ID is assigned at creation on the device and is the merge key across local
// and remote copies. Content is immutable once synced; only SyncStatus may
// change, and only pending -> synced.
type Submission struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	OperationalDate string    `json:"operationalDate"` // date-only, normalized before comparison
	UnitID          string    `json:"unitId"`

	VehicleStatuses []VehicleStatus `json:"vehicleStatuses"`
	OfferCounts     map[string]int  `json:"offerCounts,omitempty"`
	BaseCapacity    map[string]int  `json:"baseCapacity,omitempty"`

	Incident              Incident `json:"incident"`
	WeeklyAcceptanceProof string   `json:"weeklyAcceptanceProof,omitempty"`

	// SyncStatus is local-only state. It is never trusted from the remote
	// side except to be overwritten with StatusSynced on pull.
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`
}

// NewSubmissionID generates a client-side submission identifier.
//
// The ID combines the creation instant with a random component so that IDs
// generated on disconnected devices never collide.
func NewSubmissionID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + uuid.NewString()[:8]
}

// Validate checks if the Submission has valid field values.
func (s *Submission) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if s.UnitID == "" {
		return fmt.Errorf("unitId is required")
	}
	if s.OperationalDate == "" {
		return fmt.Errorf("operationalDate is required")
	}
	if _, err := time.Parse("2006-01-02", NormalizeOperationalDate(s.OperationalDate)); err != nil {
		return fmt.Errorf("operationalDate %q is not a calendar date", s.OperationalDate)
	}
	for category, n := range s.OfferCounts {
		if n < 0 {
			return fmt.Errorf("offer count for %q must be non-negative (got %d)", category, n)
		}
	}
	for category, n := range s.BaseCapacity {
		if n < 0 {
			return fmt.Errorf("base capacity for %q must be non-negative (got %d)", category, n)
		}
	}
	for i, vs := range s.VehicleStatuses {
		if vs.Plate == "" {
			return fmt.Errorf("vehicleStatuses[%d]: plate is required", i)
		}
	}
	if s.SyncStatus != "" && s.SyncStatus != StatusPending && s.SyncStatus != StatusSynced {
		return fmt.Errorf("invalid syncStatus %q", s.SyncStatus)
	}
	return nil
}

// Normalize canonicalizes fields that arrive in inconsistent formats from the
// remote endpoint. Currently this strips any time component from
// OperationalDate so that local and remote records compare equal by date.
func (s *Submission) Normalize() {
	s.OperationalDate = NormalizeOperationalDate(s.OperationalDate)
}

// NormalizeOperationalDate reduces a calendar-date value to date-only form.
//
// The remote endpoint returns the operational date sometimes as "2006-01-02"
// and sometimes as a full date-time ("2006-01-02T15:04:05Z"). Both forms
// normalize to "2006-01-02". Values that do not look like a date are returned
// unchanged.
func NormalizeOperationalDate(value string) string {
	v := strings.TrimSpace(value)
	if i := strings.IndexAny(v, "T "); i > 0 {
		v = v[:i]
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return strings.TrimSpace(value)
	}
	return v
}

// Filename returns the canonical filename for this submission: {id}.json
func (s *Submission) Filename() string {
	return fmt.Sprintf("%s.json", s.ID)
}

// ReadSubmissionFile reads and parses a submission JSON file from the given path.
// Returns the parsed Submission or an error if reading/parsing fails.
func ReadSubmissionFile(path string) (*Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read submission file %s: %w", path, err)
	}

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse submission file %s: %w", path, err)
	}

	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("invalid submission file %s: %w", path, err)
	}

	sub.Normalize()
	return &sub, nil
}

// WriteSubmissionFile writes a Submission to dir/{id}.json with
// pretty-printed formatting.
func WriteSubmissionFile(dir string, sub *Submission) error {
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid submission: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create submissions directory: %w", err)
	}

	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	path := filepath.Join(dir, sub.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write submission file %s: %w", path, err)
	}

	return nil
}
