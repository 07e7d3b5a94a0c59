package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			test_id TEXT NOT NULL,
			persona TEXT NOT NULL,
			url TEXT NOT NULL,
			session_id TEXT,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			tasks TEXT,
			completed_tasks INTEGER NOT NULL DEFAULT 0,
			total_tasks INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			completed_at DATETIME,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			action_count INTEGER NOT NULL DEFAULT 0,
			completion_percentage INTEGER NOT NULL DEFAULT 0,
			feedback TEXT,
			next_steps TEXT,
			logs TEXT,
			context TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_test ON runs(test_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			label TEXT NOT NULL,
			detail TEXT,
			persona_id TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS findings (
			finding_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			persona_id TEXT,
			title TEXT NOT NULL,
			severity TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			category TEXT NOT NULL,
			frequency INTEGER NOT NULL DEFAULT 1,
			evidence TEXT,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(run_id)`,
		`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			chunk_id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			title TEXT NOT NULL,
			category TEXT,
			content TEXT NOT NULL,
			embedding TEXT,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_chunks(category)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Columns added after the first schema; SQLite has limited ALTER TABLE support.
	return s.ensureColumn("findings", "specialist", "ALTER TABLE findings ADD COLUMN specialist TEXT")
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const runColumns = `run_id, test_id, persona, url, session_id, status, progress, tasks, completed_tasks, total_tasks,
	created_at, started_at, completed_at, duration_ms, action_count, completion_percentage, feedback, next_steps,
	logs, context, error`

// runRow flattens a run into column values in runColumns order.
func runRow(run *domain.Run) ([]interface{}, error) {
	persona, err := json.Marshal(run.Persona)
	if err != nil {
		return nil, fmt.Errorf("encode persona: %w", err)
	}
	tasks, _ := json.Marshal(run.Tasks)
	nextSteps, _ := json.Marshal(run.NextSteps)
	logs, _ := json.Marshal(run.Logs)
	var snapshot sql.NullString
	if run.Context != nil {
		b, err := json.Marshal(run.Context)
		if err != nil {
			return nil, fmt.Errorf("encode context: %w", err)
		}
		snapshot = sql.NullString{String: string(b), Valid: true}
	}
	return []interface{}{
		run.RunID, run.TestID, string(persona), run.URL, nullString(run.SessionID), run.Status, run.Progress,
		string(tasks), run.CompletedTasks(), len(run.Tasks), run.CreatedAt, nullTime(run.StartedAt),
		nullTime(run.CompletedAt), run.DurationMs, run.ActionCount, run.CompletionPercentage,
		nullString(run.Feedback), string(nextSteps), string(logs), snapshot, nullString(run.Error),
	}, nil
}

// CreateRun creates a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	vals, err := runRow(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vals...)
	return err
}

// UpdateRun overwrites the stored run record. Events are stored separately and are not touched.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	vals, err := runRow(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET test_id = ?, persona = ?, url = ?, session_id = ?, status = ?, progress = ?, tasks = ?,
			completed_tasks = ?, total_tasks = ?, created_at = ?, started_at = ?, completed_at = ?, duration_ms = ?,
			action_count = ?, completion_percentage = ?, feedback = ?, next_steps = ?, logs = ?, context = ?, error = ?
		 WHERE run_id = ?`,
		append(vals[1:], run.RunID)...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("update run %s: %w", run.RunID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var persona, tasks, nextSteps, logs string
	var sessionID, feedback, snapshot, errText sql.NullString
	var startedAt, completedAt sql.NullTime
	var completed, total int
	if err := row.Scan(&run.RunID, &run.TestID, &persona, &run.URL, &sessionID, &run.Status, &run.Progress,
		&tasks, &completed, &total, &run.CreatedAt, &startedAt, &completedAt, &run.DurationMs, &run.ActionCount,
		&run.CompletionPercentage, &feedback, &nextSteps, &logs, &snapshot, &errText); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(persona), &run.Persona); err != nil {
		return nil, fmt.Errorf("decode persona: %w", err)
	}
	_ = json.Unmarshal([]byte(tasks), &run.Tasks)
	_ = json.Unmarshal([]byte(nextSteps), &run.NextSteps)
	_ = json.Unmarshal([]byte(logs), &run.Logs)
	if snapshot.Valid {
		var sc domain.SemanticContext
		if err := json.Unmarshal([]byte(snapshot.String), &sc); err == nil {
			run.Context = &sc
		}
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.SessionID = sessionID.String
	run.Feedback = feedback.String
	run.Error = errText.String
	return &run, nil
}

// GetRun retrieves a run by ID together with its event log.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Events, err = s.GetEvents(ctx, runID, 0, nil, 0)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRunsByTest lists the runs of one test, oldest first. Event logs are not loaded.
func (s *SQLiteStore) ListRunsByTest(ctx context.Context, testID string) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE test_id = ? ORDER BY created_at ASC`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CreateEvent appends an event to a run's log.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, ts, type, label, detail, persona_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Ts, event.Type, event.Label, nullString(event.Detail), nullString(event.PersonaID))
	return err
}

// GetEvents retrieves events for a run.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, ts, type, label, detail, persona_id FROM events WHERE run_id = ?`
	args := []interface{}{runID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var detail, personaID sql.NullString
		if err := rows.Scan(&event.EventID, &event.RunID, &event.Ts, &event.Type, &event.Label, &detail, &personaID); err != nil {
			return nil, err
		}
		event.Detail = detail.String
		event.PersonaID = personaID.String
		events = append(events, event)
	}
	return events, rows.Err()
}

// SaveFinding writes a clustered finding. An existing row with the same id is updated;
// otherwise a new row is inserted.
func (s *SQLiteStore) SaveFinding(ctx context.Context, f *domain.ClusteredFinding) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode finding: %w", err)
	}
	evidence, _ := json.Marshal(f.Evidence)

	res, err := s.db.ExecContext(ctx,
		`UPDATE findings SET run_id = ?, persona_id = ?, specialist = ?, title = ?, severity = ?, confidence = ?,
			category = ?, frequency = ?, evidence = ?, payload = ?
		 WHERE finding_id = ?`,
		f.RunID, nullString(f.PersonaID), nullString(f.Specialist), f.Title, f.Severity, f.Confidence,
		f.Category, f.Frequency, string(evidence), string(payload), f.FindingID)
	if err == nil {
		if affected, aerr := res.RowsAffected(); aerr == nil && affected > 0 {
			return nil
		}
	}

	_, ierr := s.db.ExecContext(ctx,
		`INSERT INTO findings (finding_id, run_id, persona_id, specialist, title, severity, confidence, category,
			frequency, evidence, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FindingID, f.RunID, nullString(f.PersonaID), nullString(f.Specialist), f.Title, f.Severity, f.Confidence,
		f.Category, f.Frequency, string(evidence), string(payload), time.Now())
	if ierr != nil {
		if err != nil {
			return fmt.Errorf("save finding %s: update: %v; insert: %w", f.FindingID, err, ierr)
		}
		return fmt.Errorf("save finding %s: %w", f.FindingID, ierr)
	}
	return nil
}

// DeleteFindings removes every finding recorded for a run.
func (s *SQLiteStore) DeleteFindings(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM findings WHERE run_id = ?`, runID)
	return err
}

// ListFindings lists a run's findings in the order they were saved.
func (s *SQLiteStore) ListFindings(ctx context.Context, runID string) ([]domain.ClusteredFinding, error) {
	return s.queryFindings(ctx,
		`SELECT payload FROM findings WHERE run_id = ? ORDER BY rowid ASC`, runID)
}

// ListFindingsByTest lists findings across every run of a test, grouped by run age.
func (s *SQLiteStore) ListFindingsByTest(ctx context.Context, testID string) ([]domain.ClusteredFinding, error) {
	return s.queryFindings(ctx,
		`SELECT f.payload FROM findings f JOIN runs r ON r.run_id = f.run_id
		 WHERE r.test_id = ? ORDER BY r.created_at ASC, f.rowid ASC`, testID)
}

func (s *SQLiteStore) queryFindings(ctx context.Context, query string, args ...interface{}) ([]domain.ClusteredFinding, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ClusteredFinding
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var f domain.ClusteredFinding
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			return nil, fmt.Errorf("decode finding: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertKnowledgeChunk creates or replaces a knowledge chunk.
func (s *SQLiteStore) UpsertKnowledgeChunk(ctx context.Context, chunk *domain.KnowledgeChunk) error {
	var embedding sql.NullString
	if len(chunk.Embedding) > 0 {
		b, _ := json.Marshal(chunk.Embedding)
		embedding = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO knowledge_chunks (chunk_id, source, title, category, content, embedding, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.ChunkID, chunk.Source, chunk.Title, nullString(chunk.Category), chunk.Content, embedding, time.Now())
	return err
}

// ListKnowledgeChunks lists chunks, optionally restricted to one category.
func (s *SQLiteStore) ListKnowledgeChunks(ctx context.Context, category string) ([]domain.KnowledgeChunk, error) {
	query := `SELECT chunk_id, source, title, category, content, embedding FROM knowledge_chunks`
	var args []interface{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY chunk_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.KnowledgeChunk
	for rows.Next() {
		var c domain.KnowledgeChunk
		var cat, embedding sql.NullString
		if err := rows.Scan(&c.ChunkID, &c.Source, &c.Title, &cat, &c.Content, &embedding); err != nil {
			return nil, err
		}
		c.Category = cat.String
		if embedding.Valid {
			_ = json.Unmarshal([]byte(embedding.String), &c.Embedding)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
