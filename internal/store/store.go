package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/tagvision/internal/types"
)

// Store manages the PostgreSQL connection used to record published poses.
// Like pgx.Conn it is not safe for concurrent use.
type Store struct {
	conn *pgx.Conn
}

// Session is one run of the pipeline.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time
	Transport string
	Camera    string
	Family    string
	Label     string
	Records   int
	Detected  int
}

// Record is a stored pose record.
type Record struct {
	ID        int64
	SessionID uuid.UUID
	types.PoseRecord
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS pose_sessions (
			id UUID PRIMARY KEY,
			started_at TIMESTAMPTZ DEFAULT NOW(),
			transport TEXT NOT NULL,
			camera TEXT NOT NULL,
			family TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS pose_records (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES pose_sessions(id) ON DELETE CASCADE,
			detected BOOLEAN NOT NULL,
			tag_id BIGINT NOT NULL,
			ts DOUBLE PRECISION NOT NULL,
			tx DOUBLE PRECISION NOT NULL,
			ty DOUBLE PRECISION NOT NULL,
			tz DOUBLE PRECISION NOT NULL,
			roll DOUBLE PRECISION NOT NULL,
			pitch DOUBLE PRECISION NOT NULL,
			yaw DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS pose_records_session_id_idx ON pose_records (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartSession registers a new run and returns its ID.
func (s *Store) StartSession(ctx context.Context, transport, camera, family string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO pose_sessions (id, transport, camera, family)
		VALUES ($1, $2, $3, $4)
	`, id, transport, camera, family)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// InsertRecord saves one published record.
func (s *Store) InsertRecord(ctx context.Context, sessionID uuid.UUID, rec types.PoseRecord) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO pose_records (session_id, detected, tag_id, ts, tx, ty, tz, roll, pitch, yaw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sessionID, rec.Detected, tagIDToDB(rec.TagID), rec.Timestamp,
		rec.Translation[0], rec.Translation[1], rec.Translation[2],
		rec.Rotation[0], rec.Rotation[1], rec.Rotation[2])
	return err
}

// ListRecords returns the newest records first. A nil sessionID lists all sessions.
func (s *Store) ListRecords(ctx context.Context, sessionID uuid.UUID, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, session_id, detected, tag_id, ts, tx, ty, tz, roll, pitch, yaw
		FROM pose_records
		WHERE $1::uuid IS NULL OR session_id = $1::uuid
		ORDER BY id DESC
		LIMIT $2
	`, nullableUUID(sessionID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var tagID int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Detected, &tagID, &r.Timestamp,
			&r.Translation[0], &r.Translation[1], &r.Translation[2],
			&r.Rotation[0], &r.Rotation[1], &r.Rotation[2]); err != nil {
			return nil, err
		}
		r.TagID = tagIDFromDB(tagID)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSessions returns all sessions, newest first, with record counts.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.started_at, s.transport, s.camera, s.family, s.label,
			COUNT(r.id), COUNT(r.id) FILTER (WHERE r.detected)
		FROM pose_sessions s
		LEFT JOIN pose_records r ON r.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &sess.Transport, &sess.Camera, &sess.Family, &sess.Label,
			&sess.Records, &sess.Detected); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ErrNoSession is returned when a session ID is unknown.
var ErrNoSession = errors.New("session not found")

// GetSession fetches one session by ID.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	var sess Session
	err := s.conn.QueryRow(ctx, `
		SELECT id, started_at, transport, camera, family, label FROM pose_sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.StartedAt, &sess.Transport, &sess.Camera, &sess.Family, &sess.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return sess, err
}

// LabelSession names a session.
func (s *Store) LabelSession(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE pose_sessions SET label = $1 WHERE id = $2", label, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS pose_records CASCADE;
		DROP TABLE IF EXISTS pose_sessions CASCADE;
	`)
	return err
}

func nullableUUID(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

// tag_id is a BIGINT. Ids above math.MaxInt64 are stored with the same bits,
// so they read back negative in SQL but round-trip exactly through Go.
func tagIDToDB(id uint64) int64 { return int64(id) }

func tagIDFromDB(v int64) uint64 { return uint64(v) }
