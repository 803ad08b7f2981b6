package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Weekday is a teaching day name as stored on timetable entries.
type Weekday string

const (
	Monday    Weekday = "Monday"
	Tuesday   Weekday = "Tuesday"
	Wednesday Weekday = "Wednesday"
	Thursday  Weekday = "Thursday"
	Friday    Weekday = "Friday"
	Saturday  Weekday = "Saturday"
)

var weekdayOrder = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// Weekdays returns the fixed set of schedulable days in calendar order.
func Weekdays() []Weekday {
	out := make([]Weekday, len(weekdayOrder))
	copy(out, weekdayOrder)
	return out
}

// Index returns the calendar position (Monday=0 ... Saturday=5) or -1 when unknown.
func (d Weekday) Index() int {
	for i, day := range weekdayOrder {
		if day == d {
			return i
		}
	}
	return -1
}

// Valid reports whether d is one of Monday..Saturday.
func (d Weekday) Valid() bool {
	return d.Index() >= 0
}

// ParseWeekday accepts a day name in any letter case.
func ParseWeekday(raw string) (Weekday, error) {
	trimmed := strings.TrimSpace(raw)
	for _, day := range weekdayOrder {
		if strings.EqualFold(string(day), trimmed) {
			return day, nil
		}
	}
	return "", fmt.Errorf("unknown weekday %q", raw)
}

// TimeRange is one fixed slot of the teaching day.
type TimeRange struct {
	Start string `json:"start_time"`
	End   string `json:"end_time"`
}

// String renders the range as HH:MM-HH:MM.
func (r TimeRange) String() string {
	return r.Start + "-" + r.End
}

// ParseTimeRange parses "HH:MM-HH:MM".
func ParseTimeRange(raw string) (TimeRange, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 2 {
		return TimeRange{}, fmt.Errorf("invalid time range %q", raw)
	}
	start, end := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if !IsClock(start) || !IsClock(end) {
		return TimeRange{}, fmt.Errorf("invalid time range %q", raw)
	}
	if end <= start {
		return TimeRange{}, fmt.Errorf("time range %q ends before it starts", raw)
	}
	return TimeRange{Start: start, End: end}, nil
}

// IsClock reports whether raw is a zero padded 24h HH:MM value.
func IsClock(raw string) bool {
	if len(raw) != 5 || raw[2] != ':' {
		return false
	}
	hours, err := strconv.Atoi(raw[:2])
	if err != nil || hours < 0 || hours > 23 {
		return false
	}
	minutes, err := strconv.Atoi(raw[3:])
	if err != nil || minutes < 0 || minutes > 59 {
		return false
	}
	return true
}

// SlotCatalog is the immutable weekly grid used for scheduling.
type SlotCatalog struct {
	generationDays []Weekday
	slots          []TimeRange
	roomPrefix     string
	roomBase       int
}

// SlotCatalogView is the serialisable form of a catalog.
type SlotCatalogView struct {
	Days           []Weekday   `json:"days"`
	GenerationDays []Weekday   `json:"generation_days"`
	Slots          []TimeRange `json:"slots"`
}

// DefaultSlotCatalog returns Monday-Friday with six one hour slots and a lunch gap.
func DefaultSlotCatalog() SlotCatalog {
	return SlotCatalog{
		generationDays: []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday},
		slots: []TimeRange{
			{Start: "09:00", End: "10:00"},
			{Start: "10:00", End: "11:00"},
			{Start: "11:00", End: "12:00"},
			{Start: "13:00", End: "14:00"},
			{Start: "14:00", End: "15:00"},
			{Start: "15:00", End: "16:00"},
		},
		roomPrefix: "Room ",
		roomBase:   101,
	}
}

// NewSlotCatalog validates and builds a catalog. Days are reordered by calendar
// order and slots by start time.
func NewSlotCatalog(days []Weekday, slots []TimeRange, roomPrefix string, roomBase int) (SlotCatalog, error) {
	if len(days) == 0 {
		return SlotCatalog{}, fmt.Errorf("slot catalog requires at least one day")
	}
	if len(slots) == 0 {
		return SlotCatalog{}, fmt.Errorf("slot catalog requires at least one time slot")
	}
	seenDays := make(map[Weekday]bool, len(days))
	orderedDays := make([]Weekday, 0, len(days))
	for _, day := range weekdayOrder {
		for _, candidate := range days {
			if !candidate.Valid() {
				return SlotCatalog{}, fmt.Errorf("unknown weekday %q", candidate)
			}
			if candidate == day && !seenDays[day] {
				seenDays[day] = true
				orderedDays = append(orderedDays, day)
			}
		}
	}

	orderedSlots := make([]TimeRange, len(slots))
	copy(orderedSlots, slots)
	for i := 1; i < len(orderedSlots); i++ {
		for j := i; j > 0 && orderedSlots[j].Start < orderedSlots[j-1].Start; j-- {
			orderedSlots[j], orderedSlots[j-1] = orderedSlots[j-1], orderedSlots[j]
		}
	}
	for i, slot := range orderedSlots {
		if !IsClock(slot.Start) || !IsClock(slot.End) || slot.End <= slot.Start {
			return SlotCatalog{}, fmt.Errorf("invalid time slot %s", slot)
		}
		if i > 0 && slot.Start < orderedSlots[i-1].End {
			return SlotCatalog{}, fmt.Errorf("time slot %s overlaps %s", slot, orderedSlots[i-1])
		}
	}
	if roomBase <= 0 {
		roomBase = 101
	}
	return SlotCatalog{generationDays: orderedDays, slots: orderedSlots, roomPrefix: roomPrefix, roomBase: roomBase}, nil
}

// GenerationDays returns the days the auto-generator fills.
func (c SlotCatalog) GenerationDays() []Weekday {
	out := make([]Weekday, len(c.generationDays))
	copy(out, c.generationDays)
	return out
}

// Slots returns the ordered time slots of a teaching day.
func (c SlotCatalog) Slots() []TimeRange {
	out := make([]TimeRange, len(c.slots))
	copy(out, c.slots)
	return out
}

// CellCount is the number of grid cells visited by the generator.
func (c SlotCatalog) CellCount() int {
	return len(c.generationDays) * len(c.slots)
}

// Room returns the room assigned to a slot position within the day.
func (c SlotCatalog) Room(slotIndex int) string {
	return c.roomPrefix + strconv.Itoa(c.roomBase+slotIndex)
}

// View exposes the catalog for API consumers.
func (c SlotCatalog) View() SlotCatalogView {
	return SlotCatalogView{Days: Weekdays(), GenerationDays: c.GenerationDays(), Slots: c.Slots()}
}
