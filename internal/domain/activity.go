// Package domain defines the youth-center record model and the pure
// computations over it: status validation, alert levels, and filtering.
package domain

import "time"

// DateLayout is the calendar-date format used for activity dates.
// Time-of-day and timezone offsets are discarded at the store boundary.
const DateLayout = "2006-01-02"

// ActivityStatus is the lifecycle stage of an activity.
type ActivityStatus string

const (
	StatusPreparing  ActivityStatus = "preparing"
	StatusInProgress ActivityStatus = "in_progress"
	StatusCompleted  ActivityStatus = "completed"
	StatusCancelled  ActivityStatus = "cancelled"
)

// IsValidStatus reports whether s is one of the four recognized status values.
func IsValidStatus(s string) bool {
	switch ActivityStatus(s) {
	case StatusPreparing, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ValidateStatus coerces arbitrary boundary data to a recognized status.
// Unrecognized values become StatusPreparing rather than an error; stray
// status strings from the store are tolerated by policy.
func ValidateStatus(s string) ActivityStatus {
	if IsValidStatus(s) {
		return ActivityStatus(s)
	}
	return StatusPreparing
}

// Activity is one scheduled youth-center event.
//
// StartDate and EndDate are calendar-date strings in DateLayout.
// PendingSync marks a record whose last write never reached the remote
// store and exists only in local state.
type Activity struct {
	ID                   string
	Name                 string
	Center               string
	Location             string
	StartDate            string
	EndDate              string
	Status               ActivityStatus
	Description          string
	ExpectedParticipants *int
	PendingSync          bool
}

// ActivityDraft carries the caller-supplied fields for a new activity.
// The identifier is assigned by the remote store, or locally on fallback.
type ActivityDraft struct {
	Name                 string
	Center               string
	Location             string
	StartDate            string
	EndDate              string
	Status               ActivityStatus
	Description          string
	ExpectedParticipants *int
}

// Activity materializes the draft as an Activity without an identifier.
func (d ActivityDraft) Activity() Activity {
	return Activity{
		Name:                 d.Name,
		Center:               d.Center,
		Location:             d.Location,
		StartDate:            d.StartDate,
		EndDate:              d.EndDate,
		Status:               d.Status,
		Description:          d.Description,
		ExpectedParticipants: d.ExpectedParticipants,
	}
}

// Center is a physical or organizational youth center. The center set is
// reference data: loaded once per session and never mutated here.
type Center struct {
	ID          int64
	Name        string
	Location    string
	Description string
}

// ActivityFile is an attachment (image or document) owned by one activity.
type ActivityFile struct {
	ID         string
	ActivityID string
	FileName   string
	FilePath   string
	FileType   string
	FileSize   *int64
	UploadedAt *time.Time
}
