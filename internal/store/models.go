package store

import "time"

// TemplateSource identifies which template table a template row came from.
// The source is chosen explicitly by the trigger type, never by fallback
// through caught errors.
type TemplateSource string

const (
	SourceStandard TemplateSource = "standard"
	SourceProbate  TemplateSource = "probate"
	SourceMeeting  TemplateSource = "meeting"
)

// TaskTemplate is one row of a stage's task checklist. Templates are
// authored out of band and read-only here. AssigneeID carries a direct
// per-template assignment for rules that use one verbatim (FUNDING_COOR
// style).
type TaskTemplate struct {
	StageID      string
	TaskNumber   int
	Title        string
	AssigneeRule string
	AssigneeID   *int64
	DueValue     int
	DueUnit      string
	DueRelation  string
	Source       TemplateSource
}

// Task is a materialized, matter-specific task instance. DueAt stays nil for
// meeting-relative and completion-relative tasks until their trigger fires.
// DueValue/DueRelation are copied from the template so deferred resolution
// does not need a second template lookup.
type Task struct {
	ID              int64
	ExternalID      *int64
	MatterID        int64
	StageID         string
	StageName       string
	TaskNumber      int
	Title           string
	AssigneeID      *int64
	AssigneeName    string
	DueAt           *time.Time
	DueValue        int
	DueRelation     string
	CalendarEntryID *int64
	Completed       bool
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// AssigneeRef maps a rule context to a resolved user. Which of the set
// columns is consulted depends on the rule: locations for CSC, attorney_ids
// for PARALEGAL, fund_table_ids for FUND_TABLE.
type AssigneeRef struct {
	Rule         string
	UserID       int64
	UserName     string
	Locations    []string
	AttorneyIDs  []int64
	FundTableIDs []int64
}

// MeetingBooking records the booked meeting instant for a matter, consulted
// when deferred meeting-relative due dates resolve.
type MeetingBooking struct {
	MatterID        int64
	MeetingAt       time.Time
	CalendarEntryID int64
	CreatedAt       time.Time
}
