package occurrent

import "github.com/simara-svatopluk/event-sourcing-occurrent/adapters"

// Filter decides which stored events a subscription delivers.
// Filters see events before they are decoded.
type Filter interface {
	Matches(event StoredEvent) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(event StoredEvent) bool

// Matches implements Filter.
func (f FilterFunc) Matches(event StoredEvent) bool {
	return f(event)
}

// FilterAll matches every event.
func FilterAll() Filter {
	return FilterFunc(func(StoredEvent) bool { return true })
}

// FilterEventTypes matches events of any of the given types.
func FilterEventTypes(eventTypes ...string) Filter {
	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}
	return FilterFunc(func(e StoredEvent) bool {
		_, ok := types[e.Type]
		return ok
	})
}

// FilterSource matches events produced by source.
func FilterSource(source string) Filter {
	return FilterFunc(func(e StoredEvent) bool {
		return e.Metadata.Source == source
	})
}

// FilterCategory matches events whose stream ID starts with "category-".
func FilterCategory(category string) Filter {
	return FilterFunc(func(e StoredEvent) bool {
		return adapters.Category(e.StreamID) == category
	})
}

// FilterStream matches events of a single stream.
func FilterStream(streamID string) Filter {
	return FilterFunc(func(e StoredEvent) bool {
		return e.StreamID == streamID
	})
}

// And matches events that every filter matches. No filters match everything.
func And(filters ...Filter) Filter {
	return FilterFunc(func(e StoredEvent) bool {
		for _, f := range filters {
			if !f.Matches(e) {
				return false
			}
		}
		return true
	})
}

// Or matches events that at least one filter matches.
func Or(filters ...Filter) Filter {
	return FilterFunc(func(e StoredEvent) bool {
		for _, f := range filters {
			if f.Matches(e) {
				return true
			}
		}
		return false
	})
}
