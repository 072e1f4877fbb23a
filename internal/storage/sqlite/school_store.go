// Package sqlite stores schools in a single-file SQLite database using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/school-rankings-crawler/internal/school"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table.
type Config struct {
	DSN   string
	Table string
}

// SchoolStore keeps schools in a SQLite table keyed by id.
type SchoolStore struct {
	db    *sql.DB
	table string
}

// Open opens (creating if needed) the database and ensures the table exists.
func Open(ctx context.Context, cfg Config) (*SchoolStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "schools"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite serialises writers, and :memory: databases are
	// per connection.
	db.SetMaxOpenConns(1)
	store := &SchoolStore{db: db, table: table}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SchoolStore) migrate(ctx context.Context) error {
	cols := make([]string, 0, len(school.TextColumns))
	for _, c := range school.TextColumns {
		cols = append(cols, fmt.Sprintf("\t%s TEXT NOT NULL DEFAULT ''", c))
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
%s,
	national_rank INTEGER,
	year INTEGER,
	extra TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL
)`, s.table, strings.Join(cols, ",\n")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_name_idx ON %[1]s (name COLLATE NOCASE)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SchoolStore) Close() error {
	return s.db.Close()
}

func columns() []string {
	cols := append([]string{"id"}, school.TextColumns...)
	return append(cols, "national_rank", "year", "extra", "updated_at")
}

// Put upserts sc.
func (s *SchoolStore) Put(ctx context.Context, sc school.School) error {
	if sc.ID == "" {
		return fmt.Errorf("school id is required")
	}
	extra := []byte("{}")
	if len(sc.Extra) > 0 {
		var err error
		if extra, err = json.Marshal(sc.Extra); err != nil {
			return fmt.Errorf("marshal extra: %w", err)
		}
	}
	cols := columns()
	updates := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		s.table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?,", len(cols)), ","),
		strings.Join(updates, ", "))

	args := append([]any{sc.ID}, school.TextValues(sc)...)
	args = append(args, nullInt(sc.NationalRank), nullInt(sc.Year), string(extra),
		sc.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert school %s: %w", sc.ID, err)
	}
	return nil
}

// Get returns the school with id.
func (s *SchoolStore) Get(ctx context.Context, id string) (school.School, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, strings.Join(columns(), ", "), s.table)
	sc, err := scanSchool(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return school.School{}, school.ErrNotFound
	}
	if err != nil {
		return school.School{}, fmt.Errorf("get school %s: %w", id, err)
	}
	return sc, nil
}

// List pages through schools ordered by national rank, unranked last.
func (s *SchoolStore) List(ctx context.Context, limit, offset int) ([]school.School, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY national_rank IS NULL, national_rank, id LIMIT ? OFFSET ?`,
		strings.Join(columns(), ", "), s.table)
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	defer rows.Close()

	out := []school.School{}
	for rows.Next() {
		sc, err := scanSchool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan school: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	return out, nil
}

// SearchByName matches a case-insensitive substring of the name.
func (s *SchoolStore) SearchByName(ctx context.Context, query string, limit int) ([]school.Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT id, name, city, state FROM %s WHERE lower(name) LIKE ? ESCAPE '\' ORDER BY name, id LIMIT ?`, s.table)
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := s.db.QueryContext(ctx, q, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search schools: %w", err)
	}
	defer rows.Close()

	out := []school.Summary{}
	for rows.Next() {
		var sum school.Summary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.City, &sum.State); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search schools: %w", err)
	}
	return out, nil
}

// Rankings returns every snapshot sharing the name, city and state of id,
// newest year first.
func (s *SchoolStore) Rankings(ctx context.Context, id string) ([]school.Ranking, error) {
	target, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT year, national_rank, math_proficiency, reading_proficiency, student_teacher_ratio,
	college_readiness, college_readiness_index, grades, teachers, students, medal_awarded
FROM %s
WHERE lower(trim(name)) = lower(?) AND lower(trim(city)) = lower(?) AND lower(trim(state)) = lower(?)
ORDER BY year IS NULL, year DESC, id`, s.table)
	rows, err := s.db.QueryContext(ctx, query,
		strings.TrimSpace(target.Name), strings.TrimSpace(target.City), strings.TrimSpace(target.State))
	if err != nil {
		return nil, fmt.Errorf("rankings for %s: %w", id, err)
	}
	defer rows.Close()

	out := []school.Ranking{}
	for rows.Next() {
		var (
			r          school.Ranking
			year, rank sql.NullInt64
		)
		if err := rows.Scan(
			&year, &rank, &r.MathProficiency, &r.ReadingProficiency, &r.StudentTeacherRatio,
			&r.CollegeReadiness, &r.CollegeReadinessIndex, &r.Grades, &r.Teachers, &r.Students, &r.MedalAwarded,
		); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		r.Year, r.NationalRank = intPtr(year), intPtr(rank)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rankings for %s: %w", id, err)
	}
	return out, nil
}

// Update applies patch to the school with id and returns the updated row.
func (s *SchoolStore) Update(ctx context.Context, id string, patch school.Patch) (school.School, error) {
	if err := patch.Validate(); err != nil {
		return school.School{}, err
	}
	cols := patch.Columns()
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, patch.Value(c))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano), id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, s.table, strings.Join(sets, ", ")), args...)
	if err != nil {
		return school.School{}, fmt.Errorf("update school %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return school.School{}, school.ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes the school with id.
func (s *SchoolStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table), id)
	if err != nil {
		return fmt.Errorf("delete school %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return school.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchool(row scanner) (school.School, error) {
	var (
		sc               school.School
		rank, year       sql.NullInt64
		extra, updatedAt string
	)
	dest := append([]any{&sc.ID}, school.TextTargets(&sc)...)
	dest = append(dest, &rank, &year, &extra, &updatedAt)
	if err := row.Scan(dest...); err != nil {
		return school.School{}, err
	}
	sc.NationalRank, sc.Year = intPtr(rank), intPtr(year)
	if extra != "" && extra != "{}" {
		if err := json.Unmarshal([]byte(extra), &sc.Extra); err != nil {
			return school.School{}, fmt.Errorf("decode extra: %w", err)
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return school.School{}, fmt.Errorf("parse updated_at: %w", err)
	}
	sc.UpdatedAt = ts
	return sc, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
