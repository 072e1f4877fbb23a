package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/school-rankings-crawler/internal/school"
)

func ptr(n int) *int { return &n }

func newMockStore(t *testing.T) (*SchoolStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewSchoolStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func schoolRow(store *SchoolStore, sc school.School, extra []byte) *pgxmock.Rows {
	values := append([]any{sc.ID}, school.TextValues(sc)...)
	values = append(values, sc.NationalRank, sc.Year, extra, sc.UpdatedAt)
	return pgxmock.NewRows(store.columns()).AddRow(values...)
}

func TestNewSchoolStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSchoolStoreWithPool(nil, "schools")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	_, err = NewSchoolStoreWithPool(mock, "bad-name;")
	assert.ErrorContains(t, err, "invalid table name")

	store, err := NewSchoolStoreWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "schools", store.table)
}

func TestNewSchoolStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewSchoolStore(context.Background(), SchoolStoreConfig{})
	assert.ErrorContains(t, err, "storage.dsn")
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schools").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutUpserts(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sc := school.School{ID: "abc", Name: "Lake High", City: "Austin", NationalRank: ptr(3), UpdatedAt: now}
	args := append([]any{"abc"}, school.TextValues(sc)...)
	args = append(args, sc.NationalRank, sc.Year, []byte("{}"), now)

	mock.ExpectExec(`INSERT INTO schools .* ON CONFLICT \(id\) DO UPDATE SET name = EXCLUDED.name`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), sc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutErrors(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	assert.Error(t, store.Put(context.Background(), school.School{Name: "no id"}))

	mock.ExpectExec("INSERT INTO schools").WillReturnError(errors.New("boom"))
	err := store.Put(context.Background(), school.School{ID: "x"})
	assert.ErrorContains(t, err, "upsert school x")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	want := school.School{ID: "abc", Name: "Lake High", State: "TX", NationalRank: ptr(3), Year: ptr(2012), UpdatedAt: now}
	mock.ExpectQuery(`SELECT .* FROM schools WHERE id = \$1`).
		WithArgs("abc").
		WillReturnRows(schoolRow(store, want, []byte(`{"ap_participation":"40%"}`)))

	got, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	want.Extra = map[string]string{"ap_participation": "40%"}
	assert.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM schools").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(store.columns()))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, school.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchByName(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM schools WHERE name ILIKE \$1`).
		WithArgs(`%50\%%`, 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "city", "state"}).
			AddRow("a", "The 50% School", "Austin", "TX"))

	hits, err := store.SearchByName(context.Background(), " 50% ", 5)
	require.NoError(t, err)
	assert.Equal(t, []school.Summary{{ID: "a", Name: "The 50% School", City: "Austin", State: "TX"}}, hits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRankings(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	target := school.School{ID: "abc", Name: "Lake High", City: "Austin", State: "TX", Year: ptr(2012)}
	mock.ExpectQuery(`WHERE id = \$1`).WithArgs("abc").WillReturnRows(schoolRow(store, target, nil))
	mock.ExpectQuery(`ORDER BY year DESC NULLS LAST`).
		WithArgs("Lake High", "Austin", "TX").
		WillReturnRows(pgxmock.NewRows([]string{
			"year", "national_rank", "math_proficiency", "reading_proficiency", "student_teacher_ratio",
			"college_readiness", "college_readiness_index", "grades", "teachers", "students", "medal_awarded",
		}).
			AddRow(ptr(2014), ptr(2), "90", "88", "15:1", "60", "55.5", "9-12", "80", "1200", "Gold").
			AddRow(ptr(2012), (*int)(nil), "N/A", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A"))

	rankings, err := store.Rankings(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, rankings, 2)
	assert.Equal(t, 2014, *rankings[0].Year)
	assert.Equal(t, 2, *rankings[0].NationalRank)
	assert.Equal(t, "Gold", rankings[0].MedalAwarded)
	assert.Nil(t, rankings[1].NationalRank)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE schools SET national_rank = \$1, phone = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs(7, "555", pgxmock.AnyArg(), "abc").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	updated := school.School{ID: "abc", Name: "Lake High", Phone: "555", NationalRank: ptr(7)}
	mock.ExpectQuery(`WHERE id = \$1`).WithArgs("abc").WillReturnRows(schoolRow(store, updated, []byte("{}")))

	got, err := store.Update(context.Background(), "abc", school.Patch{"phone": "555", "national_rank": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, "555", got.Phone)
	assert.Nil(t, got.Extra)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingAndInvalid(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	_, err := store.Update(context.Background(), "abc", school.Patch{"id": "new"})
	assert.ErrorContains(t, err, "unknown column")

	mock.ExpectExec("UPDATE schools").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	_, err = store.Update(context.Background(), "nope", school.Patch{"phone": "1"})
	assert.ErrorIs(t, err, school.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM schools WHERE id = \$1`).WithArgs("abc").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM schools`).WithArgs("abc").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.Delete(context.Background(), "abc"))
	assert.ErrorIs(t, store.Delete(context.Background(), "abc"), school.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	sc := school.School{ID: "a", Name: "A", NationalRank: ptr(1)}
	mock.ExpectQuery(`ORDER BY national_rank ASC NULLS LAST, id LIMIT \$1 OFFSET \$2`).
		WithArgs(100, 0).
		WillReturnRows(schoolRow(store, sc, []byte("{}")))

	got, err := store.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
