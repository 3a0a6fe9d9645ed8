package pipeline

import (
	"shiftdoc/internal"
	"shiftdoc/internal/roster"
)

type Matcher struct {
	index *roster.Index
}

// NewMatcher indexes the roster once; Match can then be called for any number
// of parsed reports.
func NewMatcher(entries []internal.RosterEntry) *Matcher {
	return &Matcher{index: roster.BuildIndex(entries)}
}

// Match joins parsed records to roster entries by identifier key, in record
// order. Records without a resolvable craving observation are left out even
// when their identifier is on the roster.
func (m *Matcher) Match(records []internal.CravingRecord) []internal.CravingMatch {
	out := make([]internal.CravingMatch, 0, len(records))
	for _, rec := range records {
		patient, ok := m.index.Lookup(rec.IdentifierKey)
		if !ok {
			continue
		}
		resolved, ok := ResolveLevel(rec.Observations)
		if !ok {
			continue
		}
		out = append(out, internal.CravingMatch{Patient: patient, Record: rec, Resolved: resolved})
	}
	return out
}

// Lookup exposes the roster entry owning key, for shift-note imports.
func (m *Matcher) Lookup(key string) (internal.RosterEntry, bool) {
	return m.index.Lookup(key)
}

// Unmatched returns the records whose identifier is not on the roster.
func (m *Matcher) Unmatched(records []internal.CravingRecord) []internal.CravingRecord {
	out := make([]internal.CravingRecord, 0)
	for _, rec := range records {
		if _, ok := m.index.Lookup(rec.IdentifierKey); !ok {
			out = append(out, rec)
		}
	}
	return out
}
