// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/school-rankings-crawler/internal/school"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SchoolStoreConfig controls the Postgres connection pool used for school rows.
type SchoolStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SchoolStore keeps schools in a Postgres table keyed by id.
type SchoolStore struct {
	pool  pool
	table string
}

// NewSchoolStore connects to Postgres and ensures the schools table exists.
func NewSchoolStore(ctx context.Context, cfg SchoolStoreConfig) (*SchoolStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &SchoolStore{pool: p, table: table}
	if err := store.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewSchoolStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSchoolStoreWithPool(p pool, table string) (*SchoolStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SchoolStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "schools"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Migrate creates the table and its name index when missing.
func (s *SchoolStore) Migrate(ctx context.Context) error {
	cols := make([]string, 0, len(school.TextColumns))
	for _, c := range school.TextColumns {
		cols = append(cols, fmt.Sprintf("\t%s TEXT NOT NULL DEFAULT ''", c))
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
%[2]s,
	national_rank INTEGER,
	year INTEGER,
	extra JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_name_idx ON %[1]s (lower(name))`, s.table, strings.Join(cols, ",\n"))
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SchoolStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *SchoolStore) columns() []string {
	cols := append([]string{"id"}, school.TextColumns...)
	return append(cols, "national_rank", "year", "extra", "updated_at")
}

// Put upserts sc.
func (s *SchoolStore) Put(ctx context.Context, sc school.School) error {
	if sc.ID == "" {
		return fmt.Errorf("school id is required")
	}
	extra, err := json.Marshal(extraOrEmpty(sc.Extra))
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	cols := s.columns()
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		s.table, strings.Join(cols, ", "), strings.Join(placeholders, ","), strings.Join(updates, ", "))

	args := append([]any{sc.ID}, school.TextValues(sc)...)
	args = append(args, sc.NationalRank, sc.Year, extra, sc.UpdatedAt.UTC())
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert school %s: %w", sc.ID, err)
	}
	return nil
}

// Get returns the school with id.
func (s *SchoolStore) Get(ctx context.Context, id string) (school.School, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, strings.Join(s.columns(), ", "), s.table)
	sc, err := scanSchool(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY national_rank ASC NULLS LAST, id LIMIT $1 OFFSET $2`,
		strings.Join(s.columns(), ", "), s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
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
	q := fmt.Sprintf(`SELECT id, name, city, state FROM %s WHERE name ILIKE $1 ORDER BY name, id LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, q, "%"+escapeLike(strings.TrimSpace(query))+"%", limit)
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

// Rankings returns every snapshot sharing the name, city and state of id.
func (s *SchoolStore) Rankings(ctx context.Context, id string) ([]school.Ranking, error) {
	target, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT year, national_rank, math_proficiency, reading_proficiency, student_teacher_ratio,
	college_readiness, college_readiness_index, grades, teachers, students, medal_awarded
FROM %s
WHERE lower(name) = lower($1) AND lower(city) = lower($2) AND lower(state) = lower($3)
ORDER BY year DESC NULLS LAST, id`, s.table)
	rows, err := s.pool.Query(ctx, query, strings.TrimSpace(target.Name), strings.TrimSpace(target.City), strings.TrimSpace(target.State))
	if err != nil {
		return nil, fmt.Errorf("rankings for %s: %w", id, err)
	}
	defer rows.Close()

	out := []school.Ranking{}
	for rows.Next() {
		var r school.Ranking
		if err := rows.Scan(
			&r.Year, &r.NationalRank, &r.MathProficiency, &r.ReadingProficiency, &r.StudentTeacherRatio,
			&r.CollegeReadiness, &r.CollegeReadinessIndex, &r.Grades, &r.Teachers, &r.Students, &r.MedalAwarded,
		); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
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
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
		args = append(args, patch.Value(c))
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(cols)+1))
	args = append(args, time.Now().UTC(), id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, s.table, strings.Join(sets, ", "), len(cols)+2)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return school.School{}, fmt.Errorf("update school %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return school.School{}, school.ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes the school with id.
func (s *SchoolStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id)
	if err != nil {
		return fmt.Errorf("delete school %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return school.ErrNotFound
	}
	return nil
}

func scanSchool(row pgx.Row) (school.School, error) {
	var (
		sc    school.School
		extra []byte
	)
	dest := append([]any{&sc.ID}, school.TextTargets(&sc)...)
	dest = append(dest, &sc.NationalRank, &sc.Year, &extra, &sc.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return school.School{}, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &sc.Extra); err != nil {
			return school.School{}, fmt.Errorf("decode extra: %w", err)
		}
		if len(sc.Extra) == 0 {
			sc.Extra = nil
		}
	}
	return sc, nil
}

func extraOrEmpty(extra map[string]string) map[string]string {
	if extra == nil {
		return map[string]string{}
	}
	return extra
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
