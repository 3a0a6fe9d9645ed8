package roster

import (
	"shiftdoc/internal"
	"shiftdoc/internal/ident"
)

// Index is the roster keyed for identifier lookups. Entries whose identifier
// field carries no token are kept in ByPatientID only.
type Index struct {
	ByKey       map[string]internal.RosterEntry
	ByPatientID map[string]internal.RosterEntry
	// Duplicates lists identifier keys claimed by more than one entry; the
	// first entry keeps the key.
	Duplicates []string
}

func BuildIndex(entries []internal.RosterEntry) *Index {
	idx := &Index{
		ByKey:       map[string]internal.RosterEntry{},
		ByPatientID: map[string]internal.RosterEntry{},
	}
	for _, e := range entries {
		if _, ok := idx.ByPatientID[e.PatientID]; !ok {
			idx.ByPatientID[e.PatientID] = e
		}
		key := ident.Key(e.IdentifierField)
		if key == "" {
			continue
		}
		if _, taken := idx.ByKey[key]; taken {
			idx.Duplicates = append(idx.Duplicates, key)
			continue
		}
		idx.ByKey[key] = e
	}
	return idx
}

func (idx *Index) Lookup(key string) (internal.RosterEntry, bool) {
	if key == "" {
		return internal.RosterEntry{}, false
	}
	e, ok := idx.ByKey[key]
	return e, ok
}
