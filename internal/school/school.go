// Package school defines the stored shape of a ranked school and the store
// contract the crawler writes to and the API reads from.
package school

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no school has the requested ID.
var ErrNotFound = errors.New("school not found")

// School is one school as ranked in one archived snapshot.
type School struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	Link                  string            `json:"link"`
	NationalRank          *int              `json:"national_rank"`
	StudentTeacherRatio   string            `json:"student_teacher_ratio"`
	CollegeReadiness      string            `json:"college_readiness"`
	Address               string            `json:"address"`
	City                  string            `json:"city"`
	State                 string            `json:"state"`
	Phone                 string            `json:"phone"`
	District              string            `json:"district"`
	ReadingProficiency    string            `json:"reading_proficiency"`
	Grades                string            `json:"grades"`
	Teachers              string            `json:"teachers"`
	CollegeReadinessIndex string            `json:"college_readiness_index"`
	MedalAwarded          string            `json:"medal_awarded"`
	MathProficiency       string            `json:"math_proficiency"`
	Students              string            `json:"students"`
	Year                  *int              `json:"year"`
	Extra                 map[string]string `json:"extra,omitempty"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// Summary is a search hit.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	City  string `json:"city"`
	State string `json:"state"`
}

// Ranking is one year's figures for a school.
type Ranking struct {
	Year                  *int   `json:"year"`
	NationalRank          *int   `json:"national_rank"`
	MathProficiency       string `json:"math_proficiency"`
	ReadingProficiency    string `json:"reading_proficiency"`
	StudentTeacherRatio   string `json:"student_teacher_ratio"`
	CollegeReadiness      string `json:"college_readiness"`
	CollegeReadinessIndex string `json:"college_readiness_index"`
	Grades                string `json:"grades"`
	Teachers              string `json:"teachers"`
	Students              string `json:"students"`
	MedalAwarded          string `json:"medal_awarded"`
}

// Overview is a school with its ranking history.
type Overview struct {
	School   School    `json:"school"`
	Rankings []Ranking `json:"rankings"`
}

// Store is a keyed school store.
type Store interface {
	// Put inserts or replaces the school with s.ID.
	Put(ctx context.Context, s School) error
	Get(ctx context.Context, id string) (School, error)
	List(ctx context.Context, limit, offset int) ([]School, error)
	// SearchByName matches a case-insensitive substring of the name.
	SearchByName(ctx context.Context, query string, limit int) ([]Summary, error)
	// Rankings returns every snapshot of the school with id (same name, city
	// and state), newest year first.
	Rankings(ctx context.Context, id string) ([]Ranking, error)
	Update(ctx context.Context, id string, patch Patch) (School, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// RankingOf projects the ranking columns of s.
func RankingOf(s School) Ranking {
	return Ranking{
		Year:                  s.Year,
		NationalRank:          s.NationalRank,
		MathProficiency:       s.MathProficiency,
		ReadingProficiency:    s.ReadingProficiency,
		StudentTeacherRatio:   s.StudentTeacherRatio,
		CollegeReadiness:      s.CollegeReadiness,
		CollegeReadinessIndex: s.CollegeReadinessIndex,
		Grades:                s.Grades,
		Teachers:              s.Teachers,
		Students:              s.Students,
		MedalAwarded:          s.MedalAwarded,
	}
}

// SameSchool reports whether a and b are snapshots of the same school.
func SameSchool(a, b School) bool {
	return equalFold(a.Name, b.Name) && equalFold(a.City, b.City) && equalFold(a.State, b.State)
}
