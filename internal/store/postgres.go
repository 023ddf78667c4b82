package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func templateTable(source TemplateSource) (string, error) {
	switch source {
	case SourceStandard:
		return "task_templates_standard", nil
	case SourceProbate:
		return "task_templates_probate", nil
	case SourceMeeting:
		return "task_templates_meeting", nil
	}
	return "", fmt.Errorf("unknown template source %q", source)
}

// GetTemplate reads one template by its natural key. The (stage_id,
// task_number) unique index guarantees at most one row per table.
func (s *PostgresStore) GetTemplate(ctx context.Context, source TemplateSource, stageID string, taskNumber int) (TaskTemplate, error) {
	table, err := templateTable(source)
	if err != nil {
		return TaskTemplate{}, err
	}
	query := fmt.Sprintf(`
		SELECT stage_id, task_number, title, assignee_rule, assignee_id, due_value, due_unit, due_relation
		FROM %s
		WHERE stage_id=$1 AND task_number=$2
	`, table)
	var t TaskTemplate
	err = s.db.QueryRowContext(ctx, query, stageID, taskNumber).
		Scan(&t.StageID, &t.TaskNumber, &t.Title, &t.AssigneeRule, &t.AssigneeID, &t.DueValue, &t.DueUnit, &t.DueRelation)
	if err != nil {
		return TaskTemplate{}, err
	}
	t.Source = source
	return t, nil
}

func (s *PostgresStore) ListStageTemplates(ctx context.Context, source TemplateSource, stageID string) ([]TaskTemplate, error) {
	table, err := templateTable(source)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT stage_id, task_number, title, assignee_rule, assignee_id, due_value, due_unit, due_relation
		FROM %s
		WHERE stage_id=$1
		ORDER BY task_number
	`, table)
	rows, err := s.db.QueryContext(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("list %s templates: %w", source, err)
	}
	defer rows.Close()

	items := make([]TaskTemplate, 0)
	for rows.Next() {
		var t TaskTemplate
		if err := rows.Scan(&t.StageID, &t.TaskNumber, &t.Title, &t.AssigneeRule, &t.AssigneeID, &t.DueValue, &t.DueUnit, &t.DueRelation); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.Source = source
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

// InsertTask records a materialized task. Returns false when the
// (matter_id, stage_id, task_number) key already exists, which makes
// re-materialization of a stage a no-op.
func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (external_id, matter_id, stage_id, stage_name, task_number, title,
			assignee_id, assignee_name, due_at, due_value, due_relation, calendar_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (matter_id, stage_id, task_number) DO NOTHING
	`, task.ExternalID, task.MatterID, task.StageID, task.StageName, task.TaskNumber, task.Title,
		task.AssigneeID, task.AssigneeName, task.DueAt, task.DueValue, task.DueRelation, task.CalendarEntryID)
	if err != nil {
		return false, fmt.Errorf("insert task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert task rows: %w", err)
	}
	return affected == 1, nil
}

// DeleteTaskRow removes a local row after a failed remote create, so the
// source system's redelivery can materialize the task again.
func (s *PostgresStore) DeleteTaskRow(ctx context.Context, matterID int64, stageID string, taskNumber int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE matter_id=$1 AND stage_id=$2 AND task_number=$3
	`, matterID, stageID, taskNumber)
	if err != nil {
		return fmt.Errorf("delete task row: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTaskExternalID(ctx context.Context, matterID int64, stageID string, taskNumber int, externalID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET external_id=$4
		WHERE matter_id=$1 AND stage_id=$2 AND task_number=$3
	`, matterID, stageID, taskNumber, externalID)
	if err != nil {
		return fmt.Errorf("set task external id: %w", err)
	}
	return nil
}

const taskColumns = `id, external_id, matter_id, stage_id, stage_name, task_number, title,
	assignee_id, assignee_name, due_at, due_value, due_relation, calendar_entry_id,
	completed, completed_at, created_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ExternalID, &t.MatterID, &t.StageID, &t.StageName, &t.TaskNumber, &t.Title,
		&t.AssigneeID, &t.AssigneeName, &t.DueAt, &t.DueValue, &t.DueRelation, &t.CalendarEntryID,
		&t.Completed, &t.CompletedAt, &t.CreatedAt)
	return t, err
}

func (s *PostgresStore) ListMatterTasks(ctx context.Context, matterID int64) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE matter_id=$1
		ORDER BY stage_id, task_number
	`, matterID)
	if err != nil {
		return nil, fmt.Errorf("list matter tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

// GetTaskByNumber joins dependents to their parent on the full
// (matter_id, stage_id, task_number) key, task_number being stored on every
// row. Task numbers restart per stage, so the stage scope is required to
// target one row.
func (s *PostgresStore) GetTaskByNumber(ctx context.Context, matterID int64, stageID string, taskNumber int) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE matter_id=$1 AND stage_id=$2 AND task_number=$3
	`, matterID, stageID, taskNumber))
}

// GetTaskByExternalID reads the local row for a task id assigned by the
// external task API.
func (s *PostgresStore) GetTaskByExternalID(ctx context.Context, externalID int64) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE external_id=$1
	`, externalID))
}

// ResolveTaskDueDate patches a deferred due date. The IS NULL guard makes the
// patch happen at most once per task.
func (s *PostgresStore) ResolveTaskDueDate(ctx context.Context, matterID int64, stageID string, taskNumber int, due time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET due_at=$4
		WHERE matter_id=$1 AND stage_id=$2 AND task_number=$3 AND due_at IS NULL
	`, matterID, stageID, taskNumber, due)
	if err != nil {
		return false, fmt.Errorf("resolve task due date: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve task due date rows: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) MarkTaskCompleted(ctx context.Context, externalID int64, at time.Time) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks SET completed=TRUE, completed_at=$2
		WHERE external_id=$1
		RETURNING `+taskColumns+`
	`, externalID, at))
}

func (s *PostgresStore) UpsertMeetingBooking(ctx context.Context, booking MeetingBooking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matters_meetings_booked (matter_id, meeting_at, calendar_entry_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (matter_id) DO UPDATE SET meeting_at=EXCLUDED.meeting_at, calendar_entry_id=EXCLUDED.calendar_entry_id
	`, booking.MatterID, booking.MeetingAt, booking.CalendarEntryID)
	if err != nil {
		return fmt.Errorf("upsert meeting booking: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMeetingBooking(ctx context.Context, matterID int64) (MeetingBooking, error) {
	var b MeetingBooking
	err := s.db.QueryRowContext(ctx, `
		SELECT matter_id, meeting_at, calendar_entry_id, created_at
		FROM matters_meetings_booked
		WHERE matter_id=$1
	`, matterID).Scan(&b.MatterID, &b.MeetingAt, &b.CalendarEntryID, &b.CreatedAt)
	if err != nil {
		return MeetingBooking{}, err
	}
	return b, nil
}

func (s *PostgresStore) ListAssigneeRefs(ctx context.Context) ([]AssigneeRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule, user_id, user_name, locations, attorney_ids, fund_table_ids
		FROM assignee_refs
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list assignee refs: %w", err)
	}
	defer rows.Close()

	items := make([]AssigneeRef, 0)
	for rows.Next() {
		var ref AssigneeRef
		if err := rows.Scan(&ref.Rule, &ref.UserID, &ref.UserName,
			pq.Array(&ref.Locations), pq.Array(&ref.AttorneyIDs), pq.Array(&ref.FundTableIDs)); err != nil {
			return nil, fmt.Errorf("scan assignee ref: %w", err)
		}
		items = append(items, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignee refs: %w", err)
	}
	return items, nil
}

// BeginDelivery claims a webhook delivery key, returning false when the key
// was already claimed inside the TTL window. This is the Postgres fallback
// used when Redis is not configured.
func (s *PostgresStore) BeginDelivery(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM webhook_deliveries WHERE key=$1 AND created_at < NOW() - $2::interval
	`, key, ttl.String()); err != nil {
		return false, fmt.Errorf("expire delivery key: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (key) VALUES ($1)
		ON CONFLICT (key) DO NOTHING
	`, key)
	if err != nil {
		return false, fmt.Errorf("claim delivery key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim delivery key rows: %w", err)
	}
	return affected == 1, nil
}

// EndDelivery releases a claimed key after a failed pipeline run, so the
// source system's retry is processed instead of being skipped as a
// duplicate.
func (s *PostgresStore) EndDelivery(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM webhook_deliveries WHERE key=$1
	`, key); err != nil {
		return fmt.Errorf("release delivery key: %w", err)
	}
	return nil
}
