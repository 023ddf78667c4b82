// Package schedule holds the due-date arithmetic applied when stage
// templates materialize into live tasks: relation parsing, day offsets and
// the weekend shift.
package schedule

import (
	"regexp"
	"time"
)

// RelationKind classifies a template's due-date relation. Exactly one kind
// applies per template.
type RelationKind int

const (
	// RelationCreation anchors the due date to the task's creation instant.
	RelationCreation RelationKind = iota
	// RelationMeeting anchors the due date to the matter's booked meeting.
	RelationMeeting
	// RelationCompletion anchors the due date to a parent task's completion.
	RelationCompletion
)

var (
	parentTaskPattern = regexp.MustCompile(`(?i)after\s+task\s+(\d+)`)
	meetingPattern    = regexp.MustCompile(`(?i)meeting`)
	beforePattern     = regexp.MustCompile(`(?i)\bbefore\b`)
)

// Classify returns the relation kind for a template's due_relation text.
// "after task N" wins over a stray "meeting" mention; anything that names
// neither a parent task nor a meeting is creation-relative.
func Classify(relation string) RelationKind {
	if parentTaskPattern.MatchString(relation) {
		return RelationCompletion
	}
	if meetingPattern.MatchString(relation) {
		return RelationMeeting
	}
	return RelationCreation
}

// ResolveDueDate computes the absolute due date for a template rule against
// a reference instant. A nil reference means the trigger has not fired yet
// (meeting not booked, parent not completed) and yields nil, never an error.
//
// The result is the reference day plus or minus the offset, normalized to
// midnight UTC, then weekend-shifted.
func ResolveDueDate(value int, relation string, ref *time.Time) *time.Time {
	if ref == nil {
		return nil
	}
	offset := value
	if beforePattern.MatchString(relation) {
		offset = -value
	}
	raw := ref.UTC().AddDate(0, 0, offset)
	due := shiftWeekend(midnightUTC(raw))
	return &due
}

func midnightUTC(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// shiftWeekend moves Saturday and Sunday dates to the following Monday. The
// shift is always forward, including for "before" offsets, which can push a
// pre-meeting deadline past the meeting itself; that matches the rule as
// deployed, so it stays.
func shiftWeekend(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, 2)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}
