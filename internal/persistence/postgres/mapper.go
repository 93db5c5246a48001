package postgres

import (
	"fmt"
	"time"

	"example.com/youthcenter/internal/domain"
)

// ActivityRow mirrors one row of the activities table. Optional columns
// are pointers so SQL NULL stays distinguishable from zero values.
type ActivityRow struct {
	ID                   string
	CenterID             int64
	Name                 string
	Location             string
	StartDate            time.Time
	EndDate              time.Time
	Status               string
	Description          *string
	ExpectedParticipants *int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ToDomain maps a store row to the domain shape. Dates are normalized to
// calendar-date strings on the UTC calendar, the status value is coerced
// through ValidateStatus, and NULL optionals map to absent. The center
// display name is supplied by the caller from the joined centers row.
func ToDomain(row ActivityRow, centerName string) domain.Activity {
	a := domain.Activity{
		ID:        row.ID,
		Name:      row.Name,
		Center:    centerName,
		Location:  row.Location,
		StartDate: row.StartDate.UTC().Format(domain.DateLayout),
		EndDate:   row.EndDate.UTC().Format(domain.DateLayout),
		Status:    domain.ValidateStatus(row.Status),
	}
	if row.Description != nil {
		a.Description = *row.Description
	}
	if row.ExpectedParticipants != nil {
		n := *row.ExpectedParticipants
		a.ExpectedParticipants = &n
	}
	return a
}

// ToRow maps a domain activity to the store row shape. The caller must
// have resolved centerID already; no lookups happen here. Absent optional
// fields map to explicit NULL so a previously-set value can be cleared.
func ToRow(a domain.Activity, centerID int64) (ActivityRow, error) {
	start, err := time.ParseInLocation(domain.DateLayout, a.StartDate, time.UTC)
	if err != nil {
		return ActivityRow{}, fmt.Errorf("start date %q: %w", a.StartDate, err)
	}
	end, err := time.ParseInLocation(domain.DateLayout, a.EndDate, time.UTC)
	if err != nil {
		return ActivityRow{}, fmt.Errorf("end date %q: %w", a.EndDate, err)
	}

	row := ActivityRow{
		ID:        a.ID,
		CenterID:  centerID,
		Name:      a.Name,
		Location:  a.Location,
		StartDate: start,
		EndDate:   end,
		Status:    string(a.Status),
	}
	if a.Description != "" {
		desc := a.Description
		row.Description = &desc
	}
	if a.ExpectedParticipants != nil {
		n := *a.ExpectedParticipants
		row.ExpectedParticipants = &n
	}
	return row, nil
}
