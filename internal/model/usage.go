package model

import (
	"fmt"
	"time"
)

// ResourceType is a quota-tracked resource.
type ResourceType string

const (
	ResourceDocument ResourceType = "document"
	ResourceLecture  ResourceType = "lecture"
)

const (
	DocumentResetPeriod = 7 * 24 * time.Hour
	LectureResetPeriod  = 30 * 24 * time.Hour
)

// ParseResourceType validates a resource name.
func ParseResourceType(s string) (ResourceType, error) {
	switch ResourceType(s) {
	case ResourceDocument, ResourceLecture:
		return ResourceType(s), nil
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// ResetPeriod is the length of the usage window for the resource.
func (r ResourceType) ResetPeriod() time.Duration {
	if r == ResourceLecture {
		return LectureResetPeriod
	}
	return DocumentResetPeriod
}

// UsageCounter is one windowed counter inside a UsageRecord.
type UsageCounter struct {
	Count     int       `db:"count" json:"count"`
	LastReset time.Time `db:"last_reset" json:"last_reset"`
}

// Expired reports whether the window starting at LastReset has run its full period.
func (c UsageCounter) Expired(now time.Time, period time.Duration) bool {
	return now.Sub(c.LastReset) >= period
}

// UsageRecord holds all quota counters for one user.
type UsageRecord struct {
	UserID    string       `db:"user_id" json:"user_id"`
	Documents UsageCounter `json:"documents"`
	Lectures  UsageCounter `json:"lectures"`
}

// NewUsageRecord returns a zeroed record whose windows start at now.
func NewUsageRecord(userID string, now time.Time) *UsageRecord {
	return &UsageRecord{
		UserID:    userID,
		Documents: UsageCounter{LastReset: now},
		Lectures:  UsageCounter{LastReset: now},
	}
}

// Counter returns a pointer to the counter for the resource.
func (u *UsageRecord) Counter(resource ResourceType) *UsageCounter {
	if resource == ResourceLecture {
		return &u.Lectures
	}
	return &u.Documents
}

// Reservation is returned when a quota check admits an action.
type Reservation struct {
	UserID      string       `json:"user_id"`
	Resource    ResourceType `json:"resource"`
	Count       int          `json:"count"`
	Limit       int          `json:"limit"`
	WindowStart time.Time    `json:"window_start"`
	ResetsAt    time.Time    `json:"resets_at"`
}

// ResourceUsage is the display projection of one counter.
type ResourceUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`     // -1 for unlimited
	Remaining int `json:"remaining"` // -1 for unlimited
	// ResetsAt is nil when no window is open.
	ResetsAt *time.Time `json:"resets_at,omitempty"`
}

// UsageSnapshot is the read-only view of a user's usage.
type UsageSnapshot struct {
	UserID    string        `json:"user_id"`
	Documents ResourceUsage `json:"documents"`
	Lectures  ResourceUsage `json:"lectures"`
}
