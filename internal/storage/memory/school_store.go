package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/school-rankings-crawler/internal/school"
)

// SchoolStore is an in-memory school.Store.
type SchoolStore struct {
	mu      sync.RWMutex
	schools map[string]school.School
}

// NewSchoolStore constructs an empty SchoolStore.
func NewSchoolStore() *SchoolStore {
	return &SchoolStore{schools: make(map[string]school.School)}
}

// Put inserts or replaces s.
func (s *SchoolStore) Put(_ context.Context, sc school.School) error {
	if sc.ID == "" {
		return fmt.Errorf("school id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schools[sc.ID] = cloneSchool(sc)
	return nil
}

// Get returns the school with id.
func (s *SchoolStore) Get(_ context.Context, id string) (school.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schools[id]
	if !ok {
		return school.School{}, school.ErrNotFound
	}
	return cloneSchool(sc), nil
}

// List returns schools ordered by national rank, unranked last.
func (s *SchoolStore) List(_ context.Context, limit, offset int) ([]school.School, error) {
	s.mu.RLock()
	all := make([]school.School, 0, len(s.schools))
	for _, sc := range s.schools {
		all = append(all, cloneSchool(sc))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		ri, rj := all[i].NationalRank, all[j].NationalRank
		switch {
		case ri != nil && rj != nil && *ri != *rj:
			return *ri < *rj
		case (ri == nil) != (rj == nil):
			return ri != nil
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return []school.School{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// SearchByName returns schools whose name contains query, case-insensitively.
func (s *SchoolStore) SearchByName(_ context.Context, query string, limit int) ([]school.Summary, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []school.Summary{}
	for _, sc := range s.schools {
		if strings.Contains(strings.ToLower(sc.Name), needle) {
			out = append(out, school.Summary{ID: sc.ID, Name: sc.Name, City: sc.City, State: sc.State})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Rankings returns every snapshot of the school with id, newest year first.
func (s *SchoolStore) Rankings(_ context.Context, id string) ([]school.Ranking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.schools[id]
	if !ok {
		return nil, school.ErrNotFound
	}
	var snaps []school.School
	for _, sc := range s.schools {
		if school.SameSchool(target, sc) {
			snaps = append(snaps, sc)
		}
	}
	sort.Slice(snaps, func(i, j int) bool {
		yi, yj := snaps[i].Year, snaps[j].Year
		switch {
		case yi != nil && yj != nil && *yi != *yj:
			return *yi > *yj
		case (yi == nil) != (yj == nil):
			return yi != nil
		}
		return snaps[i].ID < snaps[j].ID
	})
	out := make([]school.Ranking, 0, len(snaps))
	for _, sc := range snaps {
		out = append(out, school.RankingOf(sc))
	}
	return out, nil
}

// Update applies patch to the school with id and returns the result.
func (s *SchoolStore) Update(_ context.Context, id string, patch school.Patch) (school.School, error) {
	if err := patch.Validate(); err != nil {
		return school.School{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schools[id]
	if !ok {
		return school.School{}, school.ErrNotFound
	}
	patch.Apply(&sc)
	s.schools[id] = sc
	return cloneSchool(sc), nil
}

// Delete removes the school with id.
func (s *SchoolStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schools[id]; !ok {
		return school.ErrNotFound
	}
	delete(s.schools, id)
	return nil
}

// Close is a no-op.
func (s *SchoolStore) Close() error { return nil }

func cloneSchool(sc school.School) school.School {
	if sc.NationalRank != nil {
		v := *sc.NationalRank
		sc.NationalRank = &v
	}
	if sc.Year != nil {
		v := *sc.Year
		sc.Year = &v
	}
	if sc.Extra != nil {
		extra := make(map[string]string, len(sc.Extra))
		for k, v := range sc.Extra {
			extra[k] = v
		}
		sc.Extra = extra
	}
	return sc
}
