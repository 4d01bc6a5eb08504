package core

import "sort"

// UnsuppliedSet tracks Consumer ids that currently have no supplier.
type UnsuppliedSet struct {
	ids map[string]struct{}
}

func NewUnsuppliedSet() *UnsuppliedSet {
	return &UnsuppliedSet{ids: make(map[string]struct{})}
}

func (s *UnsuppliedSet) Add(id string)    { s.ids[id] = struct{}{} }
func (s *UnsuppliedSet) Remove(id string) { delete(s.ids, id) }
func (s *UnsuppliedSet) Len() int         { return len(s.ids) }

func (s *UnsuppliedSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// IDs returns a sorted copy of the set.
func (s *UnsuppliedSet) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
