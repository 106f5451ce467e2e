package store

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/healthrec/pkg/common/iterator"
	"github.com/KevoDB/healthrec/pkg/common/iterator/bounded"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/stats"
)

// Predicate selects patients in ListFiltered
type Predicate func(*record.Patient) bool

// List returns every patient in ascending id order
func (s *Store) List(ctx context.Context) (out []*record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpList)
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scan(ctx, s.records.Iterator(), nil)
}

// ListFiltered returns the patients matching keep, in ascending id order
func (s *Store) ListFiltered(ctx context.Context, keep Predicate) (out []*record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpList)
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scan(ctx, s.records.Iterator(), keep)
}

// ListInClinic returns the patients currently in the clinic
func (s *Store) ListInClinic(ctx context.Context) ([]*record.Patient, error) {
	return s.ListFiltered(ctx, func(r *record.Patient) bool {
		return r.InClinic
	})
}

// Search returns the patients whose name or history contains text.
// Matching is a literal, case-sensitive substring test.
func (s *Store) Search(ctx context.Context, text string) (out []*record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpSearch, attribute.String("field", "name|history"))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scan(ctx, s.records.Iterator(), func(r *record.Patient) bool {
		return strings.Contains(r.Name, text) || strings.Contains(r.History, text)
	})
}

// SearchByStaff returns the patients whose associated staff name or history contains text
func (s *Store) SearchByStaff(ctx context.Context, text string) (out []*record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpSearch, attribute.String("field", "staff|history"))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scan(ctx, s.records.Iterator(), func(r *record.Patient) bool {
		return strings.Contains(r.StaffName, text) || strings.Contains(r.History, text)
	})
}

// SortByName returns every patient ordered by name. Patients with equal names
// keep their id order.
func (s *Store) SortByName(ctx context.Context) (out []*record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpSort)
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err = s.scan(ctx, s.records.Iterator(), nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// PageBound converts an unsigned limit or offset taken from a request to the
// int Paginate expects, saturating at math.MaxInt.
func PageBound(v uint64) int {
	if v > math.MaxInt {
		return math.MaxInt
	}
	return int(v)
}

// Paginate returns up to limit patients after skipping offset, in ascending id
// order. An offset past the end or a zero limit yields an empty page.
func (s *Store) Paginate(ctx context.Context, limit, offset int) (out []*record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpPaginate,
		attribute.Int("limit", limit), attribute.Int("offset", offset))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scan(ctx, bounded.NewWindowIterator(s.records.Iterator(), offset, limit), nil)
}

// scan decodes every entry of it that keep accepts. A nil keep accepts all.
func (s *Store) scan(ctx context.Context, it iterator.Iterator, keep Predicate) ([]*record.Patient, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}

	out := []*record.Patient{}
	for it.SeekToFirst(); it.Valid(); it.Next() {
		value := it.Value()
		if errIt, ok := it.(interface{ Err() error }); ok && errIt.Err() != nil {
			return nil, s.setFault(ctx, "read", errIt.Err())
		}
		rec, err := s.decode(ctx, it.Key(), value)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}
