package tontine

import (
	"sort"

	"tontine_system/internal/domain"
)

// MinRotationMembers is the smallest roster a round can be funded with.
// A single member paying themselves is not a rotation.
const MinRotationMembers = 2

// PayoutPriority returns the priority order paid out in roundNumber for a
// roster of activeCount members: ((roundNumber - 1) mod activeCount) + 1.
func PayoutPriority(roundNumber, activeCount int) int {
	if activeCount <= 0 || roundNumber <= 0 {
		return 0
	}
	return ((roundNumber - 1) % activeCount) + 1
}

// sortByPriority orders members by PriorityOrder, ties by ID.
func sortByPriority(members []domain.Member) {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].PriorityOrder == members[j].PriorityOrder {
			return members[i].ID < members[j].ID
		}
		return members[i].PriorityOrder < members[j].PriorityOrder
	})
}

// insertionOrders returns the new priority of every existing member when a
// member is inserted at position (1-based). Members at or after position move
// up by one; relative order is kept.
func insertionOrders(members []domain.Member, position int) map[uint]int {
	ordered := append([]domain.Member(nil), members...)
	sortByPriority(ordered)
	out := make(map[uint]int, len(ordered))
	for i, m := range ordered {
		p := i + 1
		if p >= position {
			p++
		}
		out[m.ID] = p
	}
	return out
}

// compactOrders renumbers members to 1..N keeping their relative order.
func compactOrders(members []domain.Member) map[uint]int {
	ordered := append([]domain.Member(nil), members...)
	sortByPriority(ordered)
	out := make(map[uint]int, len(ordered))
	for i, m := range ordered {
		out[m.ID] = i + 1
	}
	return out
}

// checkPermutation verifies that orders is exactly {1..N}.
func checkPermutation(orders []int) error {
	seen := make(map[int]bool, len(orders))
	for _, o := range orders {
		if o < 1 || o > len(orders) {
			return newError(ErrPriorityCollision, "priority %d outside 1..%d", o, len(orders))
		}
		if seen[o] {
			return newError(ErrPriorityCollision, "priority %d assigned twice", o)
		}
		seen[o] = true
	}
	return nil
}

// memberAtPriority finds the member holding priority among members.
func memberAtPriority(members []domain.Member, priority int) *domain.Member {
	for i := range members {
		if members[i].PriorityOrder == priority {
			return &members[i]
		}
	}
	return nil
}

// minInsertPriority is the lowest position a new member may take while round
// is open. Positions up to the round's scheduled slot are already served in the
// current cycle; inserting there would pay someone twice.
func minInsertPriority(round *domain.Round, active []domain.Member) int {
	if round.ScheduledRecipientID != nil {
		for _, m := range active {
			if m.ID == *round.ScheduledRecipientID {
				return m.PriorityOrder + 1
			}
		}
	}
	return PayoutPriority(round.RoundNumber, len(active)) + 1
}
