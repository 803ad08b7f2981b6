package models

import "strings"

// DetectConflict checks a candidate against existing entries on the exact
// (day, start time) slot. Entries sharing the candidate's ID are ignored.
// When several invariants fail the class group wins, then teacher, then room.
func DetectConflict(existing []TimetableEntry, candidate TimetableEntry) (ConflictKind, *TimetableEntry) {
	kind := ConflictNone
	var occupant *TimetableEntry
	for i := range existing {
		item := &existing[i]
		if item.ID != "" && item.ID == candidate.ID {
			continue
		}
		if item.Day != candidate.Day || item.StartTime != candidate.StartTime {
			continue
		}
		switch {
		case item.DepartmentID == candidate.DepartmentID && item.Semester == candidate.Semester:
			return ConflictClassGroupDoubleBooked, item
		case item.TeacherID == candidate.TeacherID:
			if kind != ConflictTeacherDoubleBooked {
				kind, occupant = ConflictTeacherDoubleBooked, item
			}
		case SameRoom(item.RoomNumber, candidate.RoomNumber):
			if kind == ConflictNone {
				kind, occupant = ConflictRoomDoubleBooked, item
			}
		}
	}
	return kind, occupant
}

// SameRoom compares room labels the way the store's unique key does.
func SameRoom(a, b string) bool {
	return NormalizeRoom(a) == NormalizeRoom(b)
}

// NormalizeRoom trims and collapses inner whitespace of a room label.
func NormalizeRoom(room string) string {
	return strings.Join(strings.Fields(room), " ")
}
