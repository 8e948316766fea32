package models

import (
	"sort"
	"time"

	"dsrengine/internal/collaborator"
	"dsrengine/pkg/domain"
)

type ManifestStatus string

const (
	ManifestComplete   ManifestStatus = "COMPLETE"
	ManifestIncomplete ManifestStatus = "INCOMPLETE"
)

// Entry is one discovered item.
type Entry struct {
	Module   string   `json:"module"`
	ItemID   string   `json:"item_id"`
	Kind     string   `json:"kind"`
	Priority bool     `json:"priority"`
	PIIKinds []string `json:"pii_kinds,omitempty"`
}

func (e Entry) Item() collaborator.Item {
	return collaborator.Item{Module: e.Module, ItemID: e.ItemID, Kind: e.Kind}
}

// Manifest is the inventory of a subject's data. It is produced once per
// request and only read afterwards.
type Manifest struct {
	SubjectID     domain.SubjectID `json:"subject_id"`
	Entries       []Entry          `json:"entries"`
	Status        ManifestStatus   `json:"status"`
	FailedModules []string         `json:"failed_modules,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (m *Manifest) IsComplete() bool {
	return m.Status == ManifestComplete
}

// Items lists the entries as collaborator items in manifest order.
func (m *Manifest) Items() []collaborator.Item {
	out := make([]collaborator.Item, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Item()
	}
	return out
}

// PriorityCount is the number of entries flagged for priority inclusion.
func (m *Manifest) PriorityCount() int {
	n := 0
	for _, e := range m.Entries {
		if e.Priority {
			n++
		}
	}
	return n
}

// SortEntries orders priority items first, then by module and item.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority
		}
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.ItemID < b.ItemID
	})
}
