package track

import (
	"sort"

	"github.com/cardsight/cardsight/pkg/nn"
)

// PrimaryGroup returns the top-k most stable reportable entities whose
// position satisfies 'include', and re-partitions entity roles: members of
// the group become RolePrimary, the remaining reportable entities become
// RoleSecondary, and everything else is RoleUnassigned.
//
// The spatial predicate belongs to the caller: for a card game it might be
// "lower third of the frame" to separate hole cards from community cards,
// but the tracker attaches no meaning to it.
func (t *Tracker) PrimaryGroup(k int, include func(box nn.Rect) bool) []Entity {
	candidates := []*trackedEntity{}
	for _, e := range t.entities {
		e.role = RoleUnassigned
		if e.stability() < t.options.MinStability {
			continue
		}
		e.role = RoleSecondary
		if include == nil || include(e.box) {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].stability() != candidates[b].stability() {
			return candidates[a].stability() > candidates[b].stability()
		}
		if candidates[a].framesSeen != candidates[b].framesSeen {
			return candidates[a].framesSeen > candidates[b].framesSeen
		}
		return candidates[a].id < candidates[b].id
	})
	if k >= 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	group := make([]Entity, 0, len(candidates))
	for _, e := range candidates {
		e.role = RolePrimary
		group = append(group, snapshotEntity(e))
	}
	return group
}
