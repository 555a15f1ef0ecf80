// Package pgstore provides PostgreSQL implementations of the triage
// storage interfaces.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/junxiaogit/wecom-ai-platform/internal/triage"
)

var tracer = otel.Tracer("github.com/junxiaogit/wecom-ai-platform/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists room state, messages, issues, and alert events in
// PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const stateColumns = `room_id, cursor_at, pending_count, raw_pending_count,
	last_processed_at, last_triggered_at, needs_flush`

// LoadAll retrieves every room state.
func (s *Store) LoadAll(ctx context.Context) ([]*triage.RoomState, error) {
	ctx, span := startSpan(ctx, "pgstore.LoadAll", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+stateColumns+` FROM room_states`)
	if err != nil {
		return nil, fail(span, err)
	}
	defer rows.Close()

	var out []*triage.RoomState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// Save upserts one room state.
func (s *Store) Save(ctx context.Context, st *triage.RoomState) error {
	ctx, span := startSpan(ctx, "pgstore.Save", "UPSERT")
	defer span.End()

	if err := upsertState(ctx, s.pool, st); err != nil {
		return fail(span, err)
	}
	return nil
}

// SaveAll upserts the given room states in one transaction.
func (s *Store) SaveAll(ctx context.Context, states []*triage.RoomState) error {
	ctx, span := startSpan(ctx, "pgstore.SaveAll", "UPSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	for _, st := range states {
		if err := upsertState(ctx, tx, st); err != nil {
			return fail(span, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertState(ctx context.Context, q execer, st *triage.RoomState) error {
	_, err := q.Exec(ctx, `
		INSERT INTO room_states (`+stateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_id) DO UPDATE SET
			cursor_at = EXCLUDED.cursor_at,
			pending_count = EXCLUDED.pending_count,
			raw_pending_count = EXCLUDED.raw_pending_count,
			last_processed_at = EXCLUDED.last_processed_at,
			last_triggered_at = EXCLUDED.last_triggered_at,
			needs_flush = EXCLUDED.needs_flush`,
		st.RoomID, st.Cursor, st.PendingCount, st.RawPendingCount,
		nullTime(st.LastProcessedAt), nullTime(st.LastTriggeredAt), st.NeedsFlush,
	)
	if err != nil {
		return fmt.Errorf("upsert room state %s: %w", st.RoomID, err)
	}
	return nil
}

const issueColumns = `id, room_id, phenomenon, summary, issue_type, severity,
	category, risk_score, is_bug, anchor_msg_id, detail_url, created_at`

// Create inserts a new issue record.
func (s *Store) Create(ctx context.Context, is *triage.Issue) error {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		is.ID, is.RoomID, is.Phenomenon, is.Summary, is.IssueType, string(is.Severity),
		is.Category, is.RiskScore, is.IsBug, is.AnchorMsgID, is.DetailURL, is.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert issue %s: %w", is.ID, err))
	}
	return nil
}

// ListSince retrieves issues created at or after since, oldest first.
func (s *Store) ListSince(ctx context.Context, since time.Time) ([]*triage.Issue, error) {
	ctx, span := startSpan(ctx, "pgstore.ListSince", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE created_at >= $1 ORDER BY created_at`, since)
	if err != nil {
		return nil, fail(span, err)
	}
	defer rows.Close()
	out, err := scanIssues(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// ListRoomSince retrieves one room's issues created at or after since.
func (s *Store) ListRoomSince(ctx context.Context, roomID string, since time.Time) ([]*triage.Issue, error) {
	ctx, span := startSpan(ctx, "pgstore.ListRoomSince", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE room_id = $1 AND created_at >= $2 ORDER BY created_at`,
		roomID, since)
	if err != nil {
		return nil, fail(span, err)
	}
	defer rows.Close()
	out, err := scanIssues(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// GetByDedupKey retrieves an alert event by dedup key.
func (s *Store) GetByDedupKey(ctx context.Context, key string) (*triage.AlertEvent, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetByDedupKey", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `
		SELECT id, room_id, dedup_key, alert_level, hit_count, first_seen_at, last_seen_at, last_sent_at
		FROM alert_events WHERE dedup_key = $1`, key)

	var ev triage.AlertEvent
	var level string
	var lastSent *time.Time
	err := row.Scan(&ev.ID, &ev.RoomID, &ev.DedupKey, &level, &ev.HitCount,
		&ev.FirstSeenAt, &ev.LastSeenAt, &lastSent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	ev.Level = triage.AlertLevel(level)
	ev.LastSentAt = lastSent
	return &ev, true, nil
}

// Put upserts an alert event by dedup key.
func (s *Store) Put(ctx context.Context, ev *triage.AlertEvent) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_events (id, room_id, dedup_key, alert_level, hit_count, first_seen_at, last_seen_at, last_sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dedup_key) DO UPDATE SET
			alert_level = EXCLUDED.alert_level,
			hit_count = EXCLUDED.hit_count,
			last_seen_at = EXCLUDED.last_seen_at,
			last_sent_at = EXCLUDED.last_sent_at`,
		ev.ID, ev.RoomID, ev.DedupKey, string(ev.Level), ev.HitCount,
		ev.FirstSeenAt, ev.LastSeenAt, ev.LastSentAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert alert event %s: %w", ev.DedupKey, err))
	}
	return nil
}

const messageColumns = `id, room_id, sender, body, noise, sent_at`

// Append inserts new messages, skipping IDs already present. Returns the
// number actually stored.
func (s *Store) Append(ctx context.Context, msgs []*triage.Message) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.Append", "INSERT")
	defer span.End()

	stored := 0
	for _, m := range msgs {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO room_messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.RoomID, m.Sender, m.Text, m.Noise, m.SentAt,
		)
		if err != nil {
			return stored, fail(span, fmt.Errorf("insert message %s: %w", m.ID, err))
		}
		stored += int(tag.RowsAffected())
	}
	return stored, nil
}

// ActiveRooms lists rooms with at least one message after since.
func (s *Store) ActiveRooms(ctx context.Context, since time.Time) ([]string, error) {
	ctx, span := startSpan(ctx, "pgstore.ActiveRooms", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT room_id FROM room_messages WHERE sent_at > $1 ORDER BY room_id`, since)
	if err != nil {
		return nil, fail(span, err)
	}
	defer rows.Close()
	out, err := scanStrings(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// RoomMessagesAfter retrieves up to limit messages strictly after the
// cursor, oldest first.
func (s *Store) RoomMessagesAfter(ctx context.Context, roomID string, after time.Time, limit int) ([]*triage.Message, error) {
	ctx, span := startSpan(ctx, "pgstore.RoomMessagesAfter", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM room_messages
		WHERE room_id = $1 AND sent_at > $2
		ORDER BY sent_at LIMIT $3`, roomID, after, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	defer rows.Close()
	out, err := scanMessages(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// RecentRoomMessages retrieves up to limit of the newest messages at or
// after since, reordered oldest first.
func (s *Store) RecentRoomMessages(ctx context.Context, roomID string, since time.Time, limit int) ([]*triage.Message, error) {
	ctx, span := startSpan(ctx, "pgstore.RecentRoomMessages", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM room_messages
			WHERE room_id = $1 AND sent_at >= $2
			ORDER BY sent_at DESC LIMIT $3
		) w ORDER BY sent_at`, roomID, since, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	defer rows.Close()
	out, err := scanMessages(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// LatestMessageTime retrieves the newest message timestamp for a room.
func (s *Store) LatestMessageTime(ctx context.Context, roomID string) (time.Time, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.LatestMessageTime", "SELECT")
	defer span.End()

	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT sent_at FROM room_messages WHERE room_id = $1 ORDER BY sent_at DESC LIMIT 1`,
		roomID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fail(span, err)
	}
	return t, true, nil
}

// RoomsWithSenders lists rooms where any of the given senders has posted.
func (s *Store) RoomsWithSenders(ctx context.Context, senders []string) ([]string, error) {
	ctx, span := startSpan(ctx, "pgstore.RoomsWithSenders", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT room_id FROM room_messages WHERE sender = ANY($1) ORDER BY room_id`, senders)
	if err != nil {
		return nil, fail(span, err)
	}
	defer rows.Close()
	out, err := scanStrings(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func scanState(rows pgx.Rows) (*triage.RoomState, error) {
	var st triage.RoomState
	var processed, triggered *time.Time
	if err := rows.Scan(&st.RoomID, &st.Cursor, &st.PendingCount, &st.RawPendingCount,
		&processed, &triggered, &st.NeedsFlush); err != nil {
		return nil, err
	}
	if processed != nil {
		st.LastProcessedAt = *processed
	}
	if triggered != nil {
		st.LastTriggeredAt = *triggered
	}
	return &st, nil
}

func scanIssues(rows pgx.Rows) ([]*triage.Issue, error) {
	var out []*triage.Issue
	for rows.Next() {
		var is triage.Issue
		var severity string
		if err := rows.Scan(&is.ID, &is.RoomID, &is.Phenomenon, &is.Summary, &is.IssueType,
			&severity, &is.Category, &is.RiskScore, &is.IsBug, &is.AnchorMsgID,
			&is.DetailURL, &is.CreatedAt); err != nil {
			return nil, err
		}
		is.Severity = triage.Severity(severity)
		out = append(out, &is)
	}
	return out, rows.Err()
}

func scanMessages(rows pgx.Rows) ([]*triage.Message, error) {
	var out []*triage.Message
	for rows.Next() {
		var m triage.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Text, &m.Noise, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
