package core

import (
	"fmt"
	"sort"
)

type forestEntry struct {
	parent   string // "" for roots
	children []string
}

// LogicalForest is the "who is powered by whom" index over physical node
// ids. Every node has at most one parent and no node is its own ancestor.
// It stores ids only; node data stays in the physical graph.
//
// LogicalForest is not safe for concurrent use.
type LogicalForest struct {
	entries map[string]*forestEntry
}

// NewLogicalForest returns an empty forest.
func NewLogicalForest() *LogicalForest {
	return &LogicalForest{entries: make(map[string]*forestEntry)}
}

func (f *LogicalForest) ensure(id string) *forestEntry {
	e, ok := f.entries[id]
	if !ok {
		e = &forestEntry{}
		f.entries[id] = e
	}
	return e
}

// AddRoot registers id as a root, detaching it if it had a parent. Its
// children are preserved.
func (f *LogicalForest) AddRoot(id string) {
	if id == "" {
		return
	}
	f.ensure(id)
	f.Detach(id)
}

// Contains reports whether id has a forest entry.
func (f *LogicalForest) Contains(id string) bool {
	_, ok := f.entries[id]
	return ok
}

// Len is the number of registered ids.
func (f *LogicalForest) Len() int { return len(f.entries) }

// Parent returns the parent of id. ok is false for roots and unknown ids.
func (f *LogicalForest) Parent(id string) (parent string, ok bool) {
	e, exists := f.entries[id]
	if !exists || e.parent == "" {
		return "", false
	}
	return e.parent, true
}

// Children returns a copy of the direct children of id in insertion order.
func (f *LogicalForest) Children(id string) []string {
	e, ok := f.entries[id]
	if !ok || len(e.children) == 0 {
		return nil
	}
	return append([]string(nil), e.children...)
}

// Roots returns every registered id without a parent, sorted.
func (f *LogicalForest) Roots() []string {
	var roots []string
	for id, e := range f.entries {
		if e.parent == "" {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// SetParent makes parent the logical supplier of child. An empty parent
// turns child into a root. Missing entries are created.
//
// The update is rejected without mutation when parent is child itself
// (ErrSelfParent) or one of its descendants (ErrCycle).
func (f *LogicalForest) SetParent(child, parent string) error {
	if child == "" {
		return ErrEmptyID
	}
	if parent == "" {
		f.ensure(child)
		f.Detach(child)
		return nil
	}
	if parent == child {
		return fmt.Errorf("%w: %q", ErrSelfParent, child)
	}
	if f.IsDescendant(child, parent) {
		return fmt.Errorf("%w: %q under %q", ErrCycle, child, parent)
	}

	ce := f.ensure(child)
	pe := f.ensure(parent)
	if ce.parent == parent {
		return nil
	}
	f.Detach(child)
	ce.parent = parent
	pe.children = append(pe.children, child)
	return nil
}

// Detach makes id a root and removes it from its parent's child list. The
// subtree under id is untouched. Unknown ids are ignored.
func (f *LogicalForest) Detach(id string) {
	e, ok := f.entries[id]
	if !ok || e.parent == "" {
		return
	}
	if pe, ok := f.entries[e.parent]; ok {
		pe.children = removeID(pe.children, id)
	}
	e.parent = ""
}

// Remove deletes id from the forest. Every node whose parent was id becomes
// a root; descendants are orphaned, never deleted.
func (f *LogicalForest) Remove(id string) {
	if _, ok := f.entries[id]; !ok {
		return
	}
	f.Detach(id)
	for _, e := range f.entries {
		if e.parent == id {
			e.parent = ""
		}
	}
	delete(f.entries, id)
}

// IsDescendant reports whether candidate lies in the subtree rooted at
// ancestor (ancestor itself excluded). It walks parent links upward from
// candidate.
func (f *LogicalForest) IsDescendant(ancestor, candidate string) bool {
	if ancestor == "" || candidate == "" || ancestor == candidate {
		return false
	}
	if e, ok := f.entries[ancestor]; !ok || len(e.children) == 0 {
		return false
	}
	seen := make(map[string]struct{})
	cur := candidate
	for {
		parent, ok := f.Parent(cur)
		if !ok {
			return false
		}
		if parent == ancestor {
			return true
		}
		if _, loop := seen[parent]; loop {
			return false
		}
		seen[parent] = struct{}{}
		cur = parent
	}
}

// Preorder lists every id reachable from roots, parents before children and
// children in insertion order. With no roots given the current roots are used.
func (f *LogicalForest) Preorder(roots ...string) []string {
	if len(roots) == 0 {
		roots = f.Roots()
	}
	visited := make(map[string]struct{}, len(f.entries))
	out := make([]string, 0, len(f.entries))

	for _, root := range roots {
		if _, ok := f.entries[root]; !ok {
			continue
		}
		stack := []string{root}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			e, ok := f.entries[id]
			if !ok {
				continue
			}
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}
			out = append(out, id)

			children := e.children
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}
	}
	return out
}

// Ancestors returns the parent chain of id, nearest first.
func (f *LogicalForest) Ancestors(id string) []string {
	var chain []string
	seen := map[string]struct{}{id: {}}
	cur := id
	for {
		parent, ok := f.Parent(cur)
		if !ok {
			return chain
		}
		if _, loop := seen[parent]; loop {
			return chain
		}
		seen[parent] = struct{}{}
		chain = append(chain, parent)
		cur = parent
	}
}

func removeID(ids []string, drop string) []string {
	for i, id := range ids {
		if id == drop {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
