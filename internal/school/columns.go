package school

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// TextColumns are the string-valued columns, in storage order.
var TextColumns = []string{
	"name",
	"link",
	"student_teacher_ratio",
	"college_readiness",
	"address",
	"city",
	"state",
	"phone",
	"district",
	"reading_proficiency",
	"grades",
	"teachers",
	"college_readiness_index",
	"medal_awarded",
	"math_proficiency",
	"students",
}

// IntColumns are the nullable integer columns.
var IntColumns = []string{"national_rank", "year"}

var (
	rankDigits   = regexp.MustCompile(`\d+`)
	snapshotYear = regexp.MustCompile(`/web/(\d{4})\d*/`)
)

// TextValues returns s's text columns in TextColumns order.
func TextValues(s School) []any {
	return []any{
		s.Name, s.Link, s.StudentTeacherRatio, s.CollegeReadiness, s.Address,
		s.City, s.State, s.Phone, s.District, s.ReadingProficiency, s.Grades,
		s.Teachers, s.CollegeReadinessIndex, s.MedalAwarded, s.MathProficiency,
		s.Students,
	}
}

// TextTargets returns scan destinations for s's text columns in TextColumns order.
func TextTargets(s *School) []any {
	return []any{
		&s.Name, &s.Link, &s.StudentTeacherRatio, &s.CollegeReadiness, &s.Address,
		&s.City, &s.State, &s.Phone, &s.District, &s.ReadingProficiency, &s.Grades,
		&s.Teachers, &s.CollegeReadinessIndex, &s.MedalAwarded, &s.MathProficiency,
		&s.Students,
	}
}

// ParseRank reads "#12" or "12" as 12. Anything without digits is nil.
func ParseRank(raw string) *int {
	m := rankDigits.FindString(raw)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// YearFromLink extracts the snapshot year from a Wayback Machine URL such as
// https://web.archive.org/web/20121231154127/http://... (2012).
func YearFromLink(link string) *int {
	m := snapshotYear.FindStringSubmatch(link)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// Patch is a partial update keyed by column name. Text columns take strings,
// integer columns take ints or nil.
type Patch map[string]any

// Validate checks column names and value types.
func (p Patch) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("patch is empty")
	}
	for k, v := range p {
		switch {
		case slices.Contains(TextColumns, k):
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("column %s expects a string", k)
			}
			if k == "name" && strings.TrimSpace(s) == "" {
				return fmt.Errorf("name must not be empty")
			}
		case slices.Contains(IntColumns, k):
			if _, err := toIntPtr(v); err != nil {
				return fmt.Errorf("column %s: %w", k, err)
			}
		default:
			return fmt.Errorf("unknown column %q", k)
		}
	}
	return nil
}

// Columns returns the patched column names in sorted order.
func (p Patch) Columns() []string {
	cols := make([]string, 0, len(p))
	for k := range p {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Value returns the storage value for column col.
func (p Patch) Value(col string) any {
	v := p[col]
	if slices.Contains(IntColumns, col) {
		n, _ := toIntPtr(v)
		if n == nil {
			return nil
		}
		return *n
	}
	return v
}

// Apply writes the patch onto s. The patch must be valid.
func (p Patch) Apply(s *School) {
	targets := TextTargets(s)
	for i, col := range TextColumns {
		if v, ok := p[col].(string); ok {
			*(targets[i].(*string)) = v
		}
	}
	if v, ok := p["national_rank"]; ok {
		s.NationalRank, _ = toIntPtr(v)
	}
	if v, ok := p["year"]; ok {
		s.Year, _ = toIntPtr(v)
	}
}

func toIntPtr(v any) (*int, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case int:
		return &n, nil
	case int64:
		i := int(n)
		return &i, nil
	case float64:
		if n != float64(int(n)) {
			return nil, fmt.Errorf("expects a whole number, got %v", n)
		}
		i := int(n)
		return &i, nil
	default:
		return nil, fmt.Errorf("expects a number, got %T", v)
	}
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
