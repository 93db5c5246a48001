package domain

import "strings"

// FilterActivities returns the activities matching a search term and a
// status constraint. A non-empty term must appear as a case-sensitive
// substring of the name, center, or location; a non-nil status must match
// exactly. An empty term or nil status places no constraint on that axis.
// The input is never mutated and relative order is preserved.
func FilterActivities(activities []Activity, searchTerm string, status *ActivityStatus) []Activity {
	out := make([]Activity, 0, len(activities))
	for _, a := range activities {
		if searchTerm != "" &&
			!strings.Contains(a.Name, searchTerm) &&
			!strings.Contains(a.Center, searchTerm) &&
			!strings.Contains(a.Location, searchTerm) {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		out = append(out, a)
	}
	return out
}
