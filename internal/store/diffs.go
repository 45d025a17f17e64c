package store

import (
	"errors"
	"strings"
)

// Diffs derives the iteration history for a session from stored
// versions and their test results. Nothing here is persisted, so the
// view reconstructs identically after a restart.
func (s *Store) Diffs(sessionID string) ([]Diff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scrapers, err := s.scrapersBySessionLocked(sessionID)
	if err != nil {
		return nil, err
	}

	diffs := make([]Diff, 0, len(scrapers))
	prev := ""
	for i, sc := range scrapers {
		d := Diff{
			Iteration: i + 1,
			Version:   sc.Version,
			ScraperID: sc.ID,
			Status:    sc.Status,
			CreatedAt: sc.CreatedAt,
		}
		d.LinesAdded, d.LinesRemoved = lineDelta(prev, sc.Source)
		prev = sc.Source

		r, err := s.testResultLocked(sc.ID)
		if errors.Is(err, ErrNotFound) {
			diffs = append(diffs, d)
			continue
		}
		if err != nil {
			return nil, err
		}

		d.ExecError = r.ErrClass != ""
		if d.ExecError {
			d.TopFailure = r.ErrDetail
		}
		for _, o := range r.Outcomes {
			if o.Passed {
				d.Passed++
				continue
			}
			d.Failed++
			if d.TopFailure == "" {
				d.TopFailure = o.Detail
			}
		}
		diffs = append(diffs, d)
	}
	return diffs, nil
}

// lineDelta counts lines present in one source but not the other. It is
// a multiset comparison, not a positional diff, which is enough for the
// "how much changed" signal the history view carries.
func lineDelta(old, cur string) (added, removed int) {
	counts := make(map[string]int)
	if old != "" {
		for _, line := range strings.Split(old, "\n") {
			counts[line]++
		}
	}
	if cur != "" {
		for _, line := range strings.Split(cur, "\n") {
			if counts[line] > 0 {
				counts[line]--
				continue
			}
			added++
		}
	}
	for _, n := range counts {
		removed += n
	}
	return added, removed
}
