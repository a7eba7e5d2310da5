package triage

import (
	"sort"
	"time"
)

// leastUrgentPriority is the Manchester level an untriaged patient sorts
// as: never ahead of anyone with an assessment.
const leastUrgentPriority = 5

// Entry is one patient awaiting care. Entries are derived on demand from
// the triage assessment plus arrival metadata, never stored.
type Entry struct {
	PatientID    string     `json:"patient_id"`
	Name         string     `json:"name"`
	Priority     *int       `json:"priority,omitempty"` // 1 = most urgent, nil = not triaged
	WaitingSince time.Time  `json:"waiting_since"`
}

// EffectivePriority returns the sort priority, treating a missing or
// out-of-scale value as least urgent.
func (e Entry) EffectivePriority() int {
	if e.Priority == nil || *e.Priority < 1 || *e.Priority > 5 {
		return leastUrgentPriority
	}
	return *e.Priority
}

// Order returns the entries in descending urgency:
//
//  1. priority ascending (1 before 5)
//  2. waiting time descending (longer wait first)
//  3. display name ascending
//
// The sort is stable, so re-ordering an unchanged set never reshuffles
// entries that compare equal on every key.
func Order(entries []Entry, now time.Time) []Entry {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]

		pa, pb := a.EffectivePriority(), b.EffectivePriority()
		if pa != pb {
			return pa < pb
		}

		wa, wb := now.Sub(a.WaitingSince), now.Sub(b.WaitingSince)
		if wa != wb {
			return wa > wb
		}

		return a.Name < b.Name
	})

	return ordered
}
