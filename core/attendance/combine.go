package attendance

// Status is a persisted attendance status.
type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
	StatusLate    Status = "Late"
	StatusExcused Status = "Excused"
)

// RosterEntry is one enrolled student of a class, as returned by the
// roster gateway. Ground truth, independent of live recognitions.
type RosterEntry struct {
	StudentID int    `json:"id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone_number"`
}

// StatusRecord is one persisted attendance record for a session.
type StatusRecord struct {
	StudentID int    `json:"student_id"`
	Status    Status `json:"status"`
}

// RosterStatus is a roster entry joined with its persisted status.
type RosterStatus struct {
	RosterEntry
	Status Status `json:"status"`
}

// Combine left-joins the roster against persisted attendance records.
// A student with no record is Absent; that default is part of the
// contract, not a fallback. Live recognitions never feed this view, only
// an explicit submit followed by a re-fetch changes it.
func Combine(roster []RosterEntry, records []StatusRecord) []RosterStatus {
	byStudent := make(map[int]Status, len(records))
	for _, rec := range records {
		byStudent[rec.StudentID] = rec.Status
	}

	out := make([]RosterStatus, 0, len(roster))
	for _, entry := range roster {
		status, ok := byStudent[entry.StudentID]
		if !ok {
			status = StatusAbsent
		}
		out = append(out, RosterStatus{RosterEntry: entry, Status: status})
	}
	return out
}
