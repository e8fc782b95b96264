package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/statecascade/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	// Edit boundaries only take the connection inside Commit, so one is enough.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Items ---

const itemColumns = `id, name, parent_id, sort_order, workflow_id, workflow_state_id, locked, locked_by, read_only, revision, created_at, updated_at`

func (s *LibSQLStore) CreateItem(ctx context.Context, item *schema.Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Revision == 0 {
		item.Revision = 1
	}
	item.CreatedAt = timeOrNow(item.CreatedAt)
	item.UpdatedAt = timeOrNow(item.UpdatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		itemArgs(item)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "item %q already exists", item.ID).WithCause(err)
		}
		return fmt.Errorf("insert item: %w", err)
	}
	if err := writeFields(ctx, tx, item); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertItem writes the item and replaces its fields. Timestamps and revision are copied as given.
func (s *LibSQLStore) UpsertItem(ctx context.Context, item *schema.Item) error {
	if item.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "item id is required")
	}
	if item.Revision == 0 {
		item.Revision = 1
	}
	item.CreatedAt = timeOrNow(item.CreatedAt)
	item.UpdatedAt = timeOrNow(item.UpdatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, parent_id=excluded.parent_id,
		   sort_order=excluded.sort_order, workflow_id=excluded.workflow_id,
		   workflow_state_id=excluded.workflow_state_id, locked=excluded.locked,
		   locked_by=excluded.locked_by, read_only=excluded.read_only,
		   revision=excluded.revision, updated_at=excluded.updated_at`,
		itemArgs(item)...,
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_fields WHERE item_id = ?`, item.ID); err != nil {
		return fmt.Errorf("clear fields: %w", err)
	}
	if err := writeFields(ctx, tx, item); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetItem(ctx context.Context, id string) (*schema.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("item", id)
	}
	if err != nil {
		return nil, err
	}
	if item.Fields, err = loadFields(ctx, s.db, id); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *LibSQLStore) GetChildren(ctx context.Context, parentID string) ([]*schema.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE parent_id = ? ORDER BY sort_order ASC, rowid ASC`, parentID,
	)
	if err != nil {
		return nil, err
	}
	var children []*schema.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		children = append(children, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, c := range children {
		if c.Fields, err = loadFields(ctx, s.db, c.ID); err != nil {
			return nil, err
		}
	}
	return children, nil
}

// DeleteItem removes the item and its whole subtree.
func (s *LibSQLStore) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE id IN (
			WITH RECURSIVE subtree(id) AS (
				SELECT id FROM items WHERE id = ?
				UNION ALL
				SELECT i.id FROM items i JOIN subtree st ON i.parent_id = st.id
			)
			SELECT id FROM subtree
		)`, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "item", id)
}

// LockItem marks the item as locked by owner.
func (s *LibSQLStore) LockItem(ctx context.Context, id, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET locked = 1, locked_by = ? WHERE id = ?`, nullStr(owner), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "item", id)
}

// --- Edit boundaries ---

// BeginEdit opens an edit boundary. Changes are buffered and written in a single
// transaction on Commit.
func (s *LibSQLStore) BeginEdit(ctx context.Context, itemID string, opts EditOptions) (Edit, error) {
	var readOnly bool
	err := s.db.QueryRowContext(ctx, `SELECT read_only FROM items WHERE id = ?`, itemID).Scan(&readOnly)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("item", itemID)
	}
	if err != nil {
		return nil, err
	}
	if readOnly {
		return nil, schema.NewError(schema.ErrCodeEditDenied, "item is read-only").WithItem(itemID)
	}
	return &libsqlEdit{store: s, itemID: itemID, opts: opts}, nil
}

type libsqlEdit struct {
	store     *LibSQLStore
	itemID    string
	opts      EditOptions
	stateID   *string
	clearLock bool
	released  bool
}

func (e *libsqlEdit) SetWorkflowState(stateID string) { e.stateID = &stateID }

func (e *libsqlEdit) ClearLock() { e.clearLock = true }

func (e *libsqlEdit) Release() { e.released = true }

func (e *libsqlEdit) Commit(ctx context.Context) error {
	if e.released {
		return schema.NewError(schema.ErrCodeEditDenied, "edit boundary already released").WithItem(e.itemID)
	}
	defer e.Release()

	var sets []string
	var args []any
	changes := map[string]any{}

	if e.stateID != nil {
		sets = append(sets, "workflow_state_id = ?")
		args = append(args, nullStr(*e.stateID))
		changes["workflow_state_id"] = *e.stateID
	}
	if e.clearLock {
		sets = append(sets, "locked = 0", "locked_by = NULL")
		changes["lock_cleared"] = true
	}
	if len(sets) == 0 {
		return nil
	}
	if !e.opts.Silent {
		sets = append(sets, "revision = revision + 1", "updated_at = ?")
		args = append(args, time.Now().UTC())
	}
	args = append(args, e.itemID)

	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("UPDATE items SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "write item").WithItem(e.itemID).WithCause(err)
	}
	if err := checkRowsAffected(res, "item", e.itemID); err != nil {
		return err
	}

	if !e.opts.Silent {
		payload, _ := json.Marshal(changes)
		if err := appendEventTx(ctx, tx, &Event{
			PropagationID: e.opts.PropagationID,
			ItemID:        e.itemID,
			Type:          schema.EventItemUpdated,
			Payload:       payload,
			Actor:         e.opts.Actor,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit edit: %w", err)
	}
	return nil
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.WorkflowDefinition) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (id, name, initial_state_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, initial_state_id=excluded.initial_state_id`,
		wf.ID, wf.Name, nullStr(wf.InitialStateID), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_states WHERE workflow_id = ?`, wf.ID); err != nil {
		return fmt.Errorf("clear workflow states: %w", err)
	}
	for i, st := range wf.States {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_states (workflow_id, position, id, display_name, terminal) VALUES (?, ?, ?, ?, ?)`,
			wf.ID, i, st.ID, st.DisplayName, boolToInt(st.Terminal),
		)
		if err != nil {
			return fmt.Errorf("insert workflow state %q: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	wf := &schema.WorkflowDefinition{}
	var initial sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, initial_state_id FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.Name, &initial)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf.InitialStateID = initial.String
	if wf.States, err = s.loadStates(ctx, id); err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context) ([]*schema.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, initial_state_id FROM workflows ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	var workflows []*schema.WorkflowDefinition
	for rows.Next() {
		wf := &schema.WorkflowDefinition{}
		var initial sql.NullString
		if err := rows.Scan(&wf.ID, &wf.Name, &initial); err != nil {
			rows.Close()
			return nil, err
		}
		wf.InitialStateID = initial.String
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, wf := range workflows {
		if wf.States, err = s.loadStates(ctx, wf.ID); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

// WorkflowFor returns the workflow assigned to the item, or nil when there is none.
func (s *LibSQLStore) WorkflowFor(ctx context.Context, item *schema.Item) (*schema.WorkflowDefinition, error) {
	if item == nil || item.WorkflowID == "" {
		return nil, nil
	}
	wf, err := s.GetWorkflow(ctx, item.WorkflowID)
	if schema.IsCode(err, schema.ErrCodeNotFound) {
		return nil, nil
	}
	return wf, err
}

// AssignWorkflow puts an item under a workflow. An empty stateID selects the initial state.
func (s *LibSQLStore) AssignWorkflow(ctx context.Context, itemID, workflowID, stateID string) error {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if stateID == "" {
		stateID = wf.InitialStateID
	}
	if stateID != "" && !hasState(wf, stateID) {
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow %q has no state %q", workflowID, stateID)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET workflow_id = ?, workflow_state_id = ? WHERE id = ?`,
		workflowID, nullStr(stateID), itemID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "item", itemID)
}

func (s *LibSQLStore) loadStates(ctx context.Context, workflowID string) ([]schema.WorkflowState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, terminal FROM workflow_states WHERE workflow_id = ? ORDER BY position ASC`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []schema.WorkflowState
	for rows.Next() {
		var st schema.WorkflowState
		if err := rows.Scan(&st.ID, &st.DisplayName, &st.Terminal); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func hasState(wf *schema.WorkflowDefinition, stateID string) bool {
	for _, st := range wf.States {
		if st.ID == stateID {
			return true
		}
	}
	return false
}

// --- Renderings ---

// AddRendering appends a rendering to the item's layout for the reference's device.
func (s *LibSQLStore) AddRendering(ctx context.Context, ref *schema.RenderingReference) error {
	if ref.Device == "" {
		ref.Device = schema.DefaultDevice
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order), -1) + 1 FROM renderings WHERE item_id = ? AND device = ?`,
		ref.ItemID, ref.Device,
	).Scan(&next); err != nil {
		return fmt.Errorf("next rendering order: %w", err)
	}
	ref.SortOrder = next

	_, err = tx.ExecContext(ctx,
		`INSERT INTO renderings (item_id, device, sort_order, rendering_id, placeholder, data_source) VALUES (?, ?, ?, ?, ?, ?)`,
		ref.ItemID, ref.Device, ref.SortOrder, ref.RenderingID, nullStr(ref.Placeholder), ref.DataSource,
	)
	if err != nil {
		return fmt.Errorf("insert rendering: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetRenderings(ctx context.Context, itemID, device string) ([]schema.RenderingReference, error) {
	if device == "" {
		device = schema.DefaultDevice
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, rendering_id, device, placeholder, data_source, sort_order
		 FROM renderings WHERE item_id = ? AND device = ? ORDER BY sort_order ASC`,
		itemID, device,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []schema.RenderingReference
	for rows.Next() {
		var r schema.RenderingReference
		var placeholder sql.NullString
		if err := rows.Scan(&r.ItemID, &r.RenderingID, &r.Device, &placeholder, &r.DataSource, &r.SortOrder); err != nil {
			return nil, err
		}
		r.Placeholder = placeholder.String
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := appendEventTx(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// appendEventTx assigns the next per-item sequence and inserts the event.
func appendEventTx(ctx context.Context, tx *sql.Tx, event *Event) error {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE item_id = ?`, event.ItemID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (propagation_id, item_id, event_type, payload, actor, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullStr(event.PropagationID), event.ItemID, event.Type, nullRaw(event.Payload),
		nullStr(event.Actor), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	var where []string
	var args []any

	if filter.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, filter.ItemID)
	}
	if filter.PropagationID != "" {
		where = append(where, "propagation_id = ?")
		args = append(args, filter.PropagationID)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, propagation_id, item_id, event_type, payload, actor, timestamp, sequence FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var propagationID, actor, payload sql.NullString
		if err := rows.Scan(&e.ID, &propagationID, &e.ItemID, &e.Type, &payload, &actor, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.PropagationID = propagationID.String
		e.Actor = actor.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Publish records ---

func (s *LibSQLStore) RecordPublish(ctx context.Context, rec *PublishRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = timeOrNow(rec.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_records (id, source_store, target_store, item_id, recursive, effective_at, status, error, copied, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, error=excluded.error, copied=excluded.copied`,
		rec.ID, rec.SourceStore, rec.TargetStore, rec.ItemID, boolToInt(rec.Recursive),
		timeOrNow(rec.EffectiveAt), string(rec.Status), nullStr(rec.Error), rec.Copied, rec.CreatedAt,
	)
	return err
}

func (s *LibSQLStore) ListPublishRecords(ctx context.Context, filter PublishFilter) ([]*PublishRecord, error) {
	var where []string
	var args []any

	if filter.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, filter.ItemID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT id, source_store, target_store, item_id, recursive, effective_at, status, error, copied, created_at FROM publish_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*PublishRecord
	for rows.Next() {
		r := &PublishRecord{}
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.SourceStore, &r.TargetStore, &r.ItemID, &r.Recursive,
			&r.EffectiveAt, &status, &errMsg, &r.Copied, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Status = schema.PublishStatus(status)
		r.Error = errMsg.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Schedules ---

const scheduleColumns = `id, root_id, state_name, cron_expression, condition, actor, enabled, last_run_at, next_run_at, last_run_status, last_message, created_at`

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sch *Schedule) error {
	if sch.ID == "" {
		sch.ID = uuid.New().String()
	}
	sch.CreatedAt = timeOrNow(sch.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.ID, sch.RootID, sch.StateName, sch.CronExpression, nullStr(sch.Condition), nullStr(sch.Actor),
		boolToInt(sch.Enabled), nullTime(sch.LastRunAt), nullTime(sch.NextRunAt),
		nullStr(sch.LastRunStatus), nullStr(sch.LastMessage), sch.CreatedAt,
	)
	return err
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sch, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	return sch, err
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if update.LastMessage != "" {
		sets = append(sets, "last_message = ?")
		args = append(args, update.LastMessage)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE schedules SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolToInt(*filter.Enabled))
	}
	if filter.RootID != "" {
		where = append(where, "root_id = ?")
		args = append(args, filter.RootID)
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sch)
	}
	return schedules, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

// --- Row helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func itemArgs(item *schema.Item) []any {
	return []any{
		item.ID, item.Name, nullStr(item.ParentID), item.SortOrder,
		nullStr(item.WorkflowID), nullStr(item.WorkflowStateID),
		boolToInt(item.Locked), nullStr(item.LockedBy), boolToInt(item.ReadOnly),
		item.Revision, item.CreatedAt, item.UpdatedAt,
	}
}

func scanItem(row rowScanner) (*schema.Item, error) {
	item := &schema.Item{}
	var parentID, workflowID, stateID, lockedBy sql.NullString
	if err := row.Scan(&item.ID, &item.Name, &parentID, &item.SortOrder, &workflowID, &stateID,
		&item.Locked, &lockedBy, &item.ReadOnly, &item.Revision, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.ParentID = parentID.String
	item.WorkflowID = workflowID.String
	item.WorkflowStateID = stateID.String
	item.LockedBy = lockedBy.String
	return item, nil
}

func loadFields(ctx context.Context, q querier, itemID string) ([]schema.Field, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, type, value FROM item_fields WHERE item_id = ? ORDER BY position ASC`, itemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []schema.Field
	for rows.Next() {
		var f schema.Field
		var ft string
		if err := rows.Scan(&f.Name, &ft, &f.Value); err != nil {
			return nil, err
		}
		f.Type = schema.FieldType(ft)
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func writeFields(ctx context.Context, x execer, item *schema.Item) error {
	for i, f := range item.Fields {
		if !f.Type.Valid() {
			return schema.NewErrorf(schema.ErrCodeValidation, "field %q has unknown type %q", f.Name, f.Type).WithItem(item.ID)
		}
		_, err := x.ExecContext(ctx,
			`INSERT INTO item_fields (item_id, position, name, type, value) VALUES (?, ?, ?, ?, ?)`,
			item.ID, i, f.Name, string(f.Type), f.Value,
		)
		if err != nil {
			return fmt.Errorf("insert field %q: %w", f.Name, err)
		}
	}
	return nil
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	sch := &Schedule{}
	var condition, actor, status, message sql.NullString
	var lastRun, nextRun sql.NullTime
	if err := row.Scan(&sch.ID, &sch.RootID, &sch.StateName, &sch.CronExpression, &condition, &actor,
		&sch.Enabled, &lastRun, &nextRun, &status, &message, &sch.CreatedAt); err != nil {
		return nil, err
	}
	sch.Condition = condition.String
	sch.Actor = actor.String
	sch.LastRunStatus = status.String
	sch.LastMessage = message.String
	if lastRun.Valid {
		sch.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		sch.NextRunAt = &nextRun.Time
	}
	return sch, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.CascadeError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
