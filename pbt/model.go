// Package pbt hand-rolls property-based testing over the block tree's
// create/move_block/indent/outdent/set_field operations: a minimal
// reference model is driven by the same randomized action sequences as
// a real engine.Engine. After every step the model is checked for
// acyclicity and dangling parent pointers (spec.md §3.3), and every
// block's parent and depth in the engine are compared with the model's;
// the depth(parent)+1 rule itself is not checked.
//
// No QuickCheck-style library appears anywhere in the example pack —
// storage/backend_test.go and block/block_test.go are both
// table-driven testify tests, not generative ones — so this is
// deliberately hand-rolled over math/rand and testing rather than
// importing an out-of-pack property-testing dependency (DESIGN.md
// records this as the one place stdlib is used by default rather than
// by necessity).
package pbt

import (
	"fmt"
	"math/rand"

	"github.com/nightscape/holon/block"
)

// Model is a minimal in-memory reference implementation of the block
// tree's shape, independent of storage.Backend/block.Tree, used to
// cross-check the real engine's behavior rather than to replace it.
type Model struct {
	rows map[string]modelRow
	ids  []string // insertion order, stable iteration for action generation
}

type modelRow struct {
	parentID string
	sortKey  string
	depth    int
	content  string
}

// NewModel returns an empty reference model with one root-level block
// already present, since every action needs at least one existing id
// to target.
func NewModel(rootID string) *Model {
	m := &Model{rows: make(map[string]modelRow)}
	m.rows[rootID] = modelRow{parentID: block.RootParentID, sortKey: "a0", depth: 0, content: "root"}
	m.ids = append(m.ids, rootID)
	return m
}

// IDs returns every live block id in insertion order.
func (m *Model) IDs() []string { return m.ids }

// Create adds a new child id under parentID with the given sort key,
// content and depth.
func (m *Model) Create(id, parentID, sortKey, content string, depth int) {
	m.rows[id] = modelRow{parentID: parentID, sortKey: sortKey, depth: depth, content: content}
	m.ids = append(m.ids, id)
}

// SetParent reparents id, recomputing its depth from parentID's.
func (m *Model) SetParent(id, parentID string) {
	r := m.rows[id]
	r.parentID = parentID
	if parentID == block.RootParentID {
		r.depth = 0
	} else if p, ok := m.rows[parentID]; ok {
		r.depth = p.depth + 1
	}
	m.rows[id] = r
}

// SetContent overwrites id's content.
func (m *Model) SetContent(id, content string) { r := m.rows[id]; r.content = content; m.rows[id] = r }

// ParentOf returns id's parent_id.
func (m *Model) ParentOf(id string) string { return m.rows[id].parentID }

// DepthOf returns id's recorded depth.
func (m *Model) DepthOf(id string) int { return m.rows[id].depth }

// IsAncestor reports whether candidate is an ancestor of id, walking
// parent pointers exactly as block.Tree.IsAncestor does.
func (m *Model) IsAncestor(candidate, id string) bool {
	visited := make(map[string]bool)
	cur := id
	for {
		if cur == candidate {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		r, ok := m.rows[cur]
		if !ok || r.parentID == block.RootParentID || r.parentID == block.NoParentID {
			return false
		}
		cur = r.parentID
	}
}

// CheckInvariants asserts (by returning a descriptive error rather than
// panicking) that every row's parent pointer resolves to either a
// sentinel or a live row, and that no row is its own ancestor.
func (m *Model) CheckInvariants() error {
	for id, r := range m.rows {
		if r.parentID != block.RootParentID && r.parentID != block.NoParentID {
			if _, ok := m.rows[r.parentID]; !ok {
				return fmt.Errorf("pbt: block %q has dangling parent %q", id, r.parentID)
			}
		}
		if m.IsAncestor(id, id) {
			return fmt.Errorf("pbt: block %q is its own ancestor", id)
		}
	}
	return nil
}

// RandomExistingID picks a uniformly random live id, for action
// generators that need a target.
func (m *Model) RandomExistingID(rng *rand.Rand) string {
	return m.ids[rng.Intn(len(m.ids))]
}
