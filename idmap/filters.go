package idmap

import "github.com/contentmigrate/migrate-framework/row"

// FilterFunc narrows a set of entries. Filters compose by applying them in order:
//
//	failed := idmap.Filter(entries, idmap.ByStatus(idmap.StatusFailed), idmap.WithMessages())
type FilterFunc func(entries []Entry) []Entry

// Filter applies the filters in order and returns the surviving entries.
func Filter(entries []Entry, filters ...FilterFunc) []Entry {
	for _, f := range filters {
		entries = f(entries)
	}

	return entries
}

func entryFilter(predicate func(e Entry) bool) FilterFunc {
	return func(entries []Entry) []Entry {
		filtered := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if predicate(e) {
				filtered = append(filtered, e)
			}
		}

		return filtered
	}
}

// ByStatus keeps entries having one of the given statuses.
func ByStatus(statuses ...Status) FilterFunc {
	return entryFilter(func(e Entry) bool {
		for _, s := range statuses {
			if e.Status == s {
				return true
			}
		}

		return false
	})
}

// WithDestination keeps entries that point at a destination artifact.
func WithDestination() FilterFunc {
	return entryFilter(func(e Entry) bool {
		return !e.DestinationIDs.IsEmpty()
	})
}

// WithMessages keeps entries carrying at least one message.
func WithMessages() FilterFunc {
	return entryFilter(func(e Entry) bool {
		return len(e.Messages) > 0
	})
}

// BySourceIDs keeps entries whose source ids are in the list.
func BySourceIDs(list ...row.IDs) FilterFunc {
	keys := make(map[string]struct{}, len(list))
	for _, ids := range list {
		keys[ids.Key()] = struct{}{}
	}

	return entryFilter(func(e Entry) bool {
		_, ok := keys[e.SourceIDs.Key()]
		return ok
	})
}

// Summary counts entries per status.
type Summary struct {
	Total       int
	Imported    int
	NeedsUpdate int
	Ignored     int
	Failed      int
}

// Summarize counts entries per status.
func Summarize(entries []Entry) Summary {
	s := Summary{Total: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case StatusImported:
			s.Imported++
		case StatusNeedsUpdate:
			s.NeedsUpdate++
		case StatusIgnored:
			s.Ignored++
		case StatusFailed:
			s.Failed++
		}
	}

	return s
}
