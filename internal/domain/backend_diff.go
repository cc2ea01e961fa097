package domain

import (
	"reflect"
	"sort"
)

// BackendDiff summarizes changes between two backend sets.
type BackendDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// IsEmpty reports whether the diff contains any changes.
func (d BackendDiff) IsEmpty() bool {
	return len(d.Added) == 0 &&
		len(d.Removed) == 0 &&
		len(d.Changed) == 0
}

// DiffBackends computes a diff between two backend sets keyed by name.
func DiffBackends(prev, next []BackendEntry) BackendDiff {
	prevByName := IndexBackends(prev)
	nextByName := IndexBackends(next)

	diff := BackendDiff{}
	for name, prevEntry := range prevByName {
		nextEntry, ok := nextByName[name]
		if !ok {
			diff.Removed = append(diff.Removed, name)
			continue
		}
		if !reflect.DeepEqual(prevEntry, nextEntry) {
			diff.Changed = append(diff.Changed, name)
		}
	}
	for name := range nextByName {
		if _, ok := prevByName[name]; !ok {
			diff.Added = append(diff.Added, name)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}

// IndexBackends maps entries by name.
func IndexBackends(entries []BackendEntry) map[string]BackendEntry {
	out := make(map[string]BackendEntry, len(entries))
	for _, entry := range entries {
		out[entry.Name] = entry
	}
	return out
}
