// Package store persists fitted rating histories in a SQL database so they can
// be listed and exported again without refitting. SQLite (modernc.org/sqlite)
// and Postgres (lib/pq) are supported.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pashagolub/elohistory/pkg/elo"
	"github.com/pashagolub/elohistory/pkg/journal"
)

// Error types for store operations
var (
	ErrRunNotFound       = errors.New("run not found")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	source TEXT NOT NULL,
	k INTEGER NOT NULL,
	elo_init INTEGER NOT NULL,
	elo_diff INTEGER NOT NULL,
	smr DOUBLE PRECISION NOT NULL,
	has_timestamps INTEGER NOT NULL,
	matches INTEGER NOT NULL,
	competitors INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_competitors (
	run_id TEXT NOT NULL,
	col INTEGER NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (run_id, col)
);

CREATE TABLE IF NOT EXISTS run_rows (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	match_id TEXT NOT NULL,
	ts TEXT NOT NULL,
	winner TEXT NOT NULL,
	loser TEXT NOT NULL,
	win_prob DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS run_ratings (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	col INTEGER NOT NULL,
	rating DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, seq, col)
);
`

// timeLayout is fixed width so stored times sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a database connection holding fitted runs
type Store struct {
	db     *sql.DB
	driver string
}

// RunSummary describes a stored run without its rows
type RunSummary struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	Source      string     `json:"source"`
	Config      elo.Config `json:"config"`
	Matches     int        `json:"matches"`
	Competitors int        `json:"competitors"`
}

// Open connects to the database and creates the schema when missing.
// driver is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// a single writer avoids SQLITE_BUSY inside transactions
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for Postgres
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveRun stores a history and returns its run id. A history without an id
// gets a new random one.
func (s *Store) SaveRun(ctx context.Context, h *journal.History, source string) (id string, err error) {
	id = h.RunID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := h.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (id, created_at, source, k, elo_init, elo_diff, smr, has_timestamps, matches, competitors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, createdAt.UTC().Format(timeLayout), source,
		h.Config.K, h.Config.InitialRating, h.Config.Scale, h.Config.SeasonalMeanReversion,
		boolToInt(h.HasTimestamps), len(h.Rows), len(h.Competitors))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	compStmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO run_competitors (run_id, col, name) VALUES (?, ?, ?)`))
	if err != nil {
		return "", fmt.Errorf("failed to prepare competitor insert: %w", err)
	}
	defer func() { _ = compStmt.Close() }()
	for col, name := range h.Competitors {
		if _, err = compStmt.ExecContext(ctx, id, col, name); err != nil {
			return "", fmt.Errorf("failed to insert competitor %s: %w", name, err)
		}
	}

	rowStmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO run_rows (run_id, seq, match_id, ts, winner, loser, win_prob)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return "", fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer func() { _ = rowStmt.Close() }()

	ratingStmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO run_ratings (run_id, seq, col, rating) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return "", fmt.Errorf("failed to prepare rating insert: %w", err)
	}
	defer func() { _ = ratingStmt.Close() }()

	for seq, row := range h.Rows {
		ts := ""
		if h.HasTimestamps {
			ts = row.Timestamp.Format(timeLayout)
		}
		if _, err = rowStmt.ExecContext(ctx, id, seq, row.ID, ts, row.Winner, row.Loser, row.WinProb); err != nil {
			return "", fmt.Errorf("failed to insert row %s: %w", row.ID, err)
		}
		for col, rating := range row.Ratings {
			if _, err = ratingStmt.ExecContext(ctx, id, seq, col, rating); err != nil {
				return "", fmt.Errorf("failed to insert rating of row %s: %w", row.ID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

// ListRuns returns stored runs, newest first
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, source, k, elo_init, elo_diff, smr, matches, competitors
		FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var createdAt string
		if err := rows.Scan(&r.ID, &createdAt, &r.Source, &r.Config.K, &r.Config.InitialRating,
			&r.Config.Scale, &r.Config.SeasonalMeanReversion, &r.Matches, &r.Competitors); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("run %s has a bad creation time: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadRun reads a stored run back into its export view
func (s *Store) LoadRun(ctx context.Context, id string) (*journal.History, error) {
	h := &journal.History{RunID: id}
	var createdAt string
	var hasTimestamps, matches, competitors int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT created_at, k, elo_init, elo_diff, smr, has_timestamps, matches, competitors
		FROM runs WHERE id = ?`), id).Scan(&createdAt, &h.Config.K, &h.Config.InitialRating,
		&h.Config.Scale, &h.Config.SeasonalMeanReversion, &hasTimestamps, &matches, &competitors)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	if h.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("run %s has a bad creation time: %w", id, err)
	}
	h.HasTimestamps = hasTimestamps != 0

	if h.Competitors, err = s.loadCompetitors(ctx, id, competitors); err != nil {
		return nil, err
	}
	if h.Rows, err = s.loadRows(ctx, id, matches, h.HasTimestamps); err != nil {
		return nil, err
	}
	if err = s.loadRatings(ctx, id, h.Rows, competitors); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Store) loadCompetitors(ctx context.Context, id string, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT name FROM run_competitors WHERE run_id = ? ORDER BY col`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load competitors of run %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]string, 0, n)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan competitor: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) loadRows(ctx context.Context, id string, n int, hasTimestamps bool) ([]elo.Row, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT match_id, ts, winner, loser, win_prob
		FROM run_rows WHERE run_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows of run %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]elo.Row, 0, n)
	for rows.Next() {
		var r elo.Row
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.Winner, &r.Loser, &r.WinProb); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if hasTimestamps {
			if r.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
				return nil, fmt.Errorf("row %s has a bad timestamp: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) loadRatings(ctx context.Context, id string, out []elo.Row, competitors int) error {
	for i := range out {
		out[i].Ratings = make([]float64, competitors)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT seq, col, rating FROM run_ratings WHERE run_id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to load ratings of run %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var seq, col int
		var rating float64
		if err := rows.Scan(&seq, &col, &rating); err != nil {
			return fmt.Errorf("failed to scan rating: %w", err)
		}
		if seq < 0 || seq >= len(out) || col < 0 || col >= competitors {
			return fmt.Errorf("run %s has a rating outside the ledger (row %d, column %d)", id, seq, col)
		}
		out[seq].Ratings[col] = rating
	}
	return rows.Err()
}

// DeleteRun removes a stored run
func (s *Store) DeleteRun(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"run_ratings", "run_rows", "run_competitors"} {
		if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE run_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete run %s from %s: %w", id, table, err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n == 0 {
		err = fmt.Errorf("%w: %s", ErrRunNotFound, id)
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
