package annotation

import "github.com/google/uuid"

// Store keeps annotations in insertion order, keyed by generated ID.
// Every value going in or out is copied, so callers never share memory
// with the stored records.
//
// A Store is not safe for concurrent use.
type Store struct {
	byID  map[string]Annotation
	order []string
}

func NewStore() *Store {
	return &Store{byID: make(map[string]Annotation)}
}

// Add stores a copy of a under a fresh ID and returns the ID. Any ID set
// on a is ignored.
func (s *Store) Add(a Annotation) string {
	if s.byID == nil {
		s.byID = make(map[string]Annotation)
	}
	a = a.Clone()
	a.ID = uuid.NewString()
	s.byID[a.ID] = a
	s.order = append(s.order, a.ID)
	return a.ID
}

// Update merges p into the annotation. It reports false for an unknown id.
func (s *Store) Update(id string, p Patch) bool {
	a, ok := s.byID[id]
	if !ok {
		return false
	}
	p.apply(&a)
	s.byID[id] = a
	return true
}

// Remove deletes the annotation. It reports false for an unknown id.
func (s *Store) Remove(id string) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) Get(id string) (Annotation, bool) {
	a, ok := s.byID[id]
	if !ok {
		return Annotation{}, false
	}
	return a.Clone(), true
}

// ListByPage returns the annotations of one page in insertion order.
func (s *Store) ListByPage(pageIndex int) []Annotation {
	var out []Annotation
	for _, id := range s.order {
		if a := s.byID[id]; a.PageIndex == pageIndex {
			out = append(out, a.Clone())
		}
	}
	return out
}

// ListAll returns every annotation in insertion order.
func (s *Store) ListAll() []Annotation {
	out := make([]Annotation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

func (s *Store) Len() int { return len(s.order) }

func (s *Store) Clear() {
	s.byID = make(map[string]Annotation)
	s.order = nil
}
