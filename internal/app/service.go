package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"matterops/api/internal/assign"
	"matterops/api/internal/clio"
	"matterops/api/internal/config"
	"matterops/api/internal/contacts"
	"matterops/api/internal/delivery"
	"matterops/api/internal/ghl"
	"matterops/api/internal/schedule"
	"matterops/api/internal/snapshot"
	"matterops/api/internal/store"
	"matterops/api/internal/trace"
)

// MatterContext is the matter data assignment rules resolve against,
// carried on every webhook payload.
type MatterContext struct {
	Location                string `json:"location"`
	ResponsibleAttorneyID   int64  `json:"responsible_attorney_id"`
	ResponsibleAttorneyName string `json:"responsible_attorney_name"`
}

type StageChangedEvent struct {
	MatterID  int64         `json:"matter_id"`
	StageID   string        `json:"stage_id"`
	StageName string        `json:"stage_name"`
	Matter    MatterContext `json:"matter"`
}

type CalendarEntryCreatedEvent struct {
	MatterID        int64         `json:"matter_id"`
	CalendarEntryID int64         `json:"calendar_entry_id"`
	StartAt         time.Time     `json:"start_at"`
	StageID         string        `json:"stage_id"`
	StageName       string        `json:"stage_name"`
	Matter          MatterContext `json:"matter"`
}

type TaskCompletedEvent struct {
	TaskID      int64     `json:"task_id"`
	CompletedAt time.Time `json:"completed_at"`
}

type ContactEvent struct {
	ContactID string `json:"contact_id"`
	Type      string `json:"type"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// MaterializeResult reports one pipeline run. Duplicate means the delivery
// was already claimed and nothing ran.
type MaterializeResult struct {
	Duplicate bool
	Tasks     []store.Task
	Resolved  []store.Task
	Warnings  []string
}

type dataStore interface {
	ListStageTemplates(context.Context, store.TemplateSource, string) ([]store.TaskTemplate, error)
	InsertTask(context.Context, store.Task) (bool, error)
	DeleteTaskRow(context.Context, int64, string, int) error
	SetTaskExternalID(context.Context, int64, string, int, int64) error
	ListMatterTasks(context.Context, int64) ([]store.Task, error)
	GetTaskByNumber(context.Context, int64, string, int) (store.Task, error)
	GetTaskByExternalID(context.Context, int64) (store.Task, error)
	ResolveTaskDueDate(context.Context, int64, string, int, time.Time) (bool, error)
	MarkTaskCompleted(context.Context, int64, time.Time) (store.Task, error)
	UpsertMeetingBooking(context.Context, store.MeetingBooking) error
	GetMeetingBooking(context.Context, int64) (store.MeetingBooking, error)
	ListAssigneeRefs(context.Context) ([]store.AssigneeRef, error)
	Ping(ctx context.Context) error
}

type taskAPI interface {
	CreateTask(context.Context, clio.TaskInput) (clio.Task, error)
	UpdateTask(context.Context, int64, clio.TaskUpdate) error
}

type contactAPI interface {
	UpdateContact(context.Context, string, ghl.ContactUpdate) error
}

type deliveryStore interface {
	BeginDelivery(context.Context, string, time.Duration) (bool, error)
	EndDelivery(context.Context, string) error
}

type tracer interface {
	Record(context.Context, trace.Event)
	Search(context.Context, string, int64, int) []trace.Event
}

// The virtual assistant is one fixed user across every matter.
var vaAssignee = assign.Assignee{ID: 347792, Name: "Virtual Assistant"}

type Service struct {
	cfg      config.Config
	store    dataStore
	tasks    taskAPI
	contacts contactAPI
	dedup    deliveryStore
	traces   tracer
}

func New(cfg config.Config, dataStore dataStore, tasks taskAPI, contactsAPI contactAPI, dedup deliveryStore, traces tracer) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		tasks:    tasks,
		contacts: contactsAPI,
		dedup:    dedup,
		traces:   traces,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// HandleStageChanged materializes a stage's checklist for a matter.
// Standard templates apply; stages with no standard templates fall back to
// the probate table, selected explicitly rather than by caught errors.
func (s *Service) HandleStageChanged(ctx context.Context, event StageChangedEvent) (result *MaterializeResult, err error) {
	key := delivery.Key(event.MatterID, "stage:"+event.StageID)
	claimed, err := s.dedup.BeginDelivery(ctx, key, s.cfg.DeliveryTTL)
	if err != nil {
		return nil, fmt.Errorf("claim delivery: %w", err)
	}
	if !claimed {
		s.traces.Record(ctx, trace.Event{
			MatterID: event.MatterID,
			Kind:     trace.KindDuplicateSkip,
			Message:  fmt.Sprintf("duplicate stage webhook for stage %s", event.StageID),
		})
		return &MaterializeResult{Duplicate: true}, nil
	}
	defer func() {
		if err != nil {
			s.releaseDelivery(ctx, key)
		}
	}()

	s.traces.Record(ctx, trace.Event{
		MatterID: event.MatterID,
		Kind:     trace.KindWebhookReceived,
		Message:  fmt.Sprintf("stage changed to %s", event.StageName),
		Payload:  map[string]any{"stageId": event.StageID},
	})

	templates, err := s.store.ListStageTemplates(ctx, store.SourceStandard, event.StageID)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		templates, err = s.store.ListStageTemplates(ctx, store.SourceProbate, event.StageID)
		if err != nil {
			return nil, err
		}
	}

	return s.materialize(ctx, templates, event.MatterID, event.StageName, event.Matter, nil, nil)
}

// HandleCalendarEntryCreated records the meeting booking, materializes the
// meeting-template checklist, and resolves due dates of tasks that were
// deferred waiting for the meeting instant.
func (s *Service) HandleCalendarEntryCreated(ctx context.Context, event CalendarEntryCreatedEvent) (result *MaterializeResult, err error) {
	key := delivery.Key(event.MatterID, "calendar")
	claimed, err := s.dedup.BeginDelivery(ctx, key, s.cfg.DeliveryTTL)
	if err != nil {
		return nil, fmt.Errorf("claim delivery: %w", err)
	}
	if !claimed {
		s.traces.Record(ctx, trace.Event{
			MatterID: event.MatterID,
			Kind:     trace.KindDuplicateSkip,
			Message:  "duplicate calendar webhook",
		})
		return &MaterializeResult{Duplicate: true}, nil
	}
	defer func() {
		if err != nil {
			s.releaseDelivery(ctx, key)
		}
	}()

	s.traces.Record(ctx, trace.Event{
		MatterID: event.MatterID,
		Kind:     trace.KindWebhookReceived,
		Message:  "calendar entry created",
		Payload:  map[string]any{"calendarEntryId": event.CalendarEntryID, "startAt": event.StartAt},
	})

	if err := s.store.UpsertMeetingBooking(ctx, store.MeetingBooking{
		MatterID:        event.MatterID,
		MeetingAt:       event.StartAt,
		CalendarEntryID: event.CalendarEntryID,
	}); err != nil {
		return nil, err
	}

	templates, err := s.store.ListStageTemplates(ctx, store.SourceMeeting, event.StageID)
	if err != nil {
		return nil, err
	}

	result, err = s.materialize(ctx, templates, event.MatterID, event.StageName, event.Matter, &event.CalendarEntryID, &event.StartAt)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolveDeferred(ctx, event.MatterID, schedule.RelationMeeting, "", 0, event.StartAt)
	if err != nil {
		return nil, err
	}
	result.Resolved = resolved
	return result, nil
}

// HandleTaskCompleted marks the local row and resolves due dates of tasks
// waiting on this one. The delivery key is claimed before any state changes,
// same order as the other handlers.
func (s *Service) HandleTaskCompleted(ctx context.Context, event TaskCompletedEvent) (result *MaterializeResult, err error) {
	completedAt := event.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	task, err := s.store.GetTaskByExternalID(ctx, event.TaskID)
	if errors.Is(err, sql.ErrNoRows) {
		// Manually created task, not one of ours.
		log.Printf("app: completed task %d is not tracked, ignoring", event.TaskID)
		return &MaterializeResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	key := delivery.Key(task.MatterID, fmt.Sprintf("task-completed:%s:%d", task.StageID, task.TaskNumber))
	claimed, err := s.dedup.BeginDelivery(ctx, key, s.cfg.DeliveryTTL)
	if err != nil {
		return nil, fmt.Errorf("claim delivery: %w", err)
	}
	if !claimed {
		return &MaterializeResult{Duplicate: true}, nil
	}
	defer func() {
		if err != nil {
			s.releaseDelivery(ctx, key)
		}
	}()

	if _, err = s.store.MarkTaskCompleted(ctx, event.TaskID, completedAt); err != nil {
		return nil, err
	}

	s.traces.Record(ctx, trace.Event{
		MatterID: task.MatterID,
		Kind:     trace.KindTaskCompleted,
		Message:  fmt.Sprintf("task %d completed", task.TaskNumber),
	})

	resolved, err := s.resolveDeferred(ctx, task.MatterID, schedule.RelationCompletion, task.StageID, task.TaskNumber, completedAt)
	if err != nil {
		return nil, err
	}
	return &MaterializeResult{Resolved: resolved}, nil
}

// releaseDelivery frees a claimed key after a failed run so the source
// system's retry is not mistaken for a duplicate. The task-row unique
// constraint keeps the retry itself idempotent.
func (s *Service) releaseDelivery(ctx context.Context, key string) {
	if err := s.dedup.EndDelivery(ctx, key); err != nil {
		log.Printf("app: release delivery key %s: %v", key, err)
	}
}

// HandleContactEvent normalizes inbound CRM contact data and writes back
// corrections.
func (s *Service) HandleContactEvent(ctx context.Context, event ContactEvent) error {
	s.traces.Record(ctx, trace.Event{
		Kind:    trace.KindContactEvent,
		Message: fmt.Sprintf("contact %s %s", event.ContactID, event.Type),
	})

	if s.contacts == nil || event.ContactID == "" {
		return nil
	}

	var update ghl.ContactUpdate
	if normalized := contacts.NormalizeEmail(event.Email); normalized != "" && normalized != event.Email {
		update.Email = &normalized
	}
	if normalized := contacts.NormalizePhone(event.Phone); normalized != "" && normalized != event.Phone {
		update.Phone = &normalized
	}
	if update.Email == nil && update.Phone == nil {
		return nil
	}
	if err := s.contacts.UpdateContact(ctx, event.ContactID, update); err != nil {
		return fmt.Errorf("normalize contact %s: %w", event.ContactID, err)
	}
	return nil
}

// SearchTraces exposes the trace store for diagnostics.
func (s *Service) SearchTraces(ctx context.Context, query string, matterID int64, limit int) []trace.Event {
	return s.traces.Search(ctx, query, matterID, limit)
}

// CaptureMatterSnapshot screenshots the matter's practice-management page.
func (s *Service) CaptureMatterSnapshot(ctx context.Context, matterID int64) (*snapshot.Result, error) {
	pageURL := fmt.Sprintf(s.cfg.MatterPageURL, matterID)
	return snapshot.Capture(ctx, pageURL, fmt.Sprintf("matter-%d", matterID))
}

// materialize turns templates into live tasks. meetingRef is the booked
// meeting instant for meeting-relative rules, nil when unknown; tasks whose
// trigger has not fired are created with a nil due date and patched later.
// One bad template degrades that task only, never the whole stage.
func (s *Service) materialize(ctx context.Context, templates []store.TaskTemplate, matterID int64, stageName string, matterCtx MatterContext, calendarEntryID *int64, meetingRef *time.Time) (*MaterializeResult, error) {
	result := &MaterializeResult{}
	if len(templates) == 0 {
		return result, nil
	}

	refs, err := s.store.ListAssigneeRefs(ctx)
	if err != nil {
		return nil, err
	}
	resolver := &assign.Resolver{VA: vaAssignee, Refs: toAssignRefs(refs)}
	matter := assign.Matter{
		ID:                      matterID,
		Location:                matterCtx.Location,
		ResponsibleAttorneyID:   matterCtx.ResponsibleAttorneyID,
		ResponsibleAttorneyName: matterCtx.ResponsibleAttorneyName,
	}

	now := time.Now().UTC()
	for _, tpl := range templates {
		assignee := resolver.Resolve(tpl.AssigneeRule, matter, tpl.AssigneeID)
		if !assignee.Resolved {
			warning := fmt.Sprintf("no assignee found for rule %q on task %d", tpl.AssigneeRule, tpl.TaskNumber)
			result.Warnings = append(result.Warnings, warning)
			s.traces.Record(ctx, trace.Event{
				MatterID: matterID,
				Kind:     trace.KindAssigneeMissing,
				Message:  warning,
			})
		}

		due := s.initialDueDate(ctx, tpl, matterID, meetingRef, now)

		task := store.Task{
			MatterID:        matterID,
			StageID:         tpl.StageID,
			StageName:       stageName,
			TaskNumber:      tpl.TaskNumber,
			Title:           tpl.Title,
			AssigneeName:    assignee.Name,
			DueAt:           due,
			DueValue:        tpl.DueValue,
			DueRelation:     tpl.DueRelation,
			CalendarEntryID: calendarEntryID,
		}
		if assignee.Resolved {
			id := assignee.ID
			task.AssigneeID = &id
		}

		inserted, err := s.store.InsertTask(ctx, task)
		if err != nil {
			return nil, err
		}
		if !inserted {
			// Already materialized by an earlier delivery.
			continue
		}

		created, err := s.tasks.CreateTask(ctx, clio.TaskInput{
			MatterID:   matterID,
			Name:       tpl.Title,
			DueAt:      due,
			AssigneeID: task.AssigneeID,
		})
		if err != nil {
			s.traces.Record(ctx, trace.Event{
				MatterID: matterID,
				Kind:     trace.KindAPIFailure,
				Message:  fmt.Sprintf("create task %d: %v", tpl.TaskNumber, err),
			})
			if cleanupErr := s.store.DeleteTaskRow(ctx, matterID, tpl.StageID, tpl.TaskNumber); cleanupErr != nil {
				log.Printf("app: cleanup task row %d/%s/%d: %v", matterID, tpl.StageID, tpl.TaskNumber, cleanupErr)
			}
			return nil, fmt.Errorf("create task %d for matter %d: %w", tpl.TaskNumber, matterID, err)
		}

		if err := s.store.SetTaskExternalID(ctx, matterID, tpl.StageID, tpl.TaskNumber, created.ID); err != nil {
			return nil, err
		}
		externalID := created.ID
		task.ExternalID = &externalID

		s.traces.Record(ctx, trace.Event{
			MatterID: matterID,
			Kind:     trace.KindTaskCreated,
			Message:  fmt.Sprintf("task %d (%s) created", tpl.TaskNumber, tpl.Title),
			Payload:  map[string]any{"externalId": created.ID, "deferred": due == nil},
		})
		result.Tasks = append(result.Tasks, task)
	}

	return result, nil
}

// initialDueDate computes the due date known at creation time. Meeting- and
// completion-relative tasks without a fired trigger stay nil.
func (s *Service) initialDueDate(ctx context.Context, tpl store.TaskTemplate, matterID int64, meetingRef *time.Time, now time.Time) *time.Time {
	switch schedule.Classify(tpl.DueRelation) {
	case schedule.RelationMeeting:
		if meetingRef != nil {
			return schedule.ResolveDueDate(tpl.DueValue, tpl.DueRelation, meetingRef)
		}
		// A meeting booked before this stage change still anchors the rule.
		if booking, err := s.store.GetMeetingBooking(ctx, matterID); err == nil {
			return schedule.ResolveDueDate(tpl.DueValue, tpl.DueRelation, &booking.MeetingAt)
		}
		return nil
	case schedule.RelationCompletion:
		parent, ok := schedule.ExtractParentTaskNumber(tpl.DueRelation)
		if !ok {
			return nil
		}
		parentTask, err := s.store.GetTaskByNumber(ctx, matterID, tpl.StageID, parent)
		if err != nil || !parentTask.Completed || parentTask.CompletedAt == nil {
			return nil
		}
		return schedule.ResolveDueDate(tpl.DueValue, tpl.DueRelation, parentTask.CompletedAt)
	default:
		return schedule.ResolveDueDate(tpl.DueValue, tpl.DueRelation, &now)
	}
}

// resolveDeferred patches nil due dates whose trigger just fired: the booked
// meeting for meeting-relative tasks, or parentNumber's completion for
// completion-relative ones. Task numbers restart per stage, so completion
// dependencies only bind within parentStageID; meetings apply matter-wide.
// Each task is patched at most once, guarded at the store layer.
func (s *Service) resolveDeferred(ctx context.Context, matterID int64, kind schedule.RelationKind, parentStageID string, parentNumber int, ref time.Time) ([]store.Task, error) {
	tasks, err := s.store.ListMatterTasks(ctx, matterID)
	if err != nil {
		return nil, err
	}

	resolved := make([]store.Task, 0)
	for _, task := range tasks {
		if task.DueAt != nil || task.Completed {
			continue
		}
		if schedule.Classify(task.DueRelation) != kind {
			continue
		}
		if kind == schedule.RelationCompletion {
			if task.StageID != parentStageID {
				continue
			}
			parent, ok := schedule.ExtractParentTaskNumber(task.DueRelation)
			if !ok || parent != parentNumber {
				continue
			}
		}

		due := schedule.ResolveDueDate(task.DueValue, task.DueRelation, &ref)
		if due == nil {
			continue
		}

		patched, err := s.store.ResolveTaskDueDate(ctx, matterID, task.StageID, task.TaskNumber, *due)
		if err != nil {
			return nil, err
		}
		if !patched {
			continue
		}

		if task.ExternalID != nil {
			if err := s.tasks.UpdateTask(ctx, *task.ExternalID, clio.TaskUpdate{DueAt: due}); err != nil {
				s.traces.Record(ctx, trace.Event{
					MatterID: matterID,
					Kind:     trace.KindAPIFailure,
					Message:  fmt.Sprintf("update task %d due date: %v", task.TaskNumber, err),
				})
				return nil, fmt.Errorf("update task %d for matter %d: %w", task.TaskNumber, matterID, err)
			}
		}

		task.DueAt = due
		s.traces.Record(ctx, trace.Event{
			MatterID: matterID,
			Kind:     trace.KindDueDateResolved,
			Message:  fmt.Sprintf("task %d due %s", task.TaskNumber, due.Format("2006-01-02")),
		})
		resolved = append(resolved, task)
	}
	return resolved, nil
}

func toAssignRefs(refs []store.AssigneeRef) []assign.Ref {
	out := make([]assign.Ref, 0, len(refs))
	for _, ref := range refs {
		out = append(out, assign.Ref{
			Rule:         ref.Rule,
			UserID:       ref.UserID,
			UserName:     ref.UserName,
			Locations:    ref.Locations,
			AttorneyIDs:  ref.AttorneyIDs,
			FundTableIDs: ref.FundTableIDs,
		})
	}
	return out
}
