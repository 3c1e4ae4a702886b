// Package roster folds a flat presence list into family groups for
// display.  It is pure presentation-adjacent logic: no state, no I/O.
package roster

import (
	"sort"

	"github.com/rollcall-app/rollcall/internal/model"
)

// Group is one display row: either a family with its members or a single
// person without family grouping.
type Group struct {
	FamilyID uint64
	Label    string
	Members  []model.PresenceRecord
}

// PresentCount reports how many members are present.
func (g Group) PresentCount() int {
	n := 0
	for _, m := range g.Members {
		if m.Present {
			n++
		}
	}
	return n
}

// Fold groups records by FamilyID.  People with FamilyID zero become
// single-member groups labelled with their full name; families are
// labelled by shared last name.  Groups are ordered by label, members by
// first name, so the fold is stable across refreshes.
func Fold(records []model.PresenceRecord) []Group {
	byFamily := make(map[uint64][]model.PresenceRecord)
	var singles []model.PresenceRecord
	for _, rec := range records {
		if rec.FamilyID == 0 {
			singles = append(singles, rec)
			continue
		}
		byFamily[rec.FamilyID] = append(byFamily[rec.FamilyID], rec)
	}

	groups := make([]Group, 0, len(byFamily)+len(singles))
	for id, members := range byFamily {
		sort.Slice(members, func(i, j int) bool { return members[i].FirstName < members[j].FirstName })
		groups = append(groups, Group{FamilyID: id, Label: familyLabel(members), Members: members})
	}
	for _, rec := range singles {
		groups = append(groups, Group{Label: rec.FirstName + " " + rec.LastName, Members: []model.PresenceRecord{rec}})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Label < groups[j].Label })
	return groups
}

// familyLabel derives a group label from the members' last names.  When
// all members share one last name the label is that surname; mixed-name
// households fall back to the first member's surname with an ampersand
// marker.
func familyLabel(members []model.PresenceRecord) string {
	last := members[0].LastName
	for _, m := range members[1:] {
		if m.LastName != last {
			return last + " & co."
		}
	}
	return last
}
