package rangeset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quillchat/chatsync/internal/chat"
)

// Span is one inclusive run of event indices.
type Span struct {
	Start chat.EventIndex
	End   chat.EventIndex
}

// Contains reports whether the span includes the given index.
func (s Span) Contains(index chat.EventIndex) bool {
	return index >= s.Start && index <= s.End
}

// Set is an ordered collection of disjoint, non-adjacent inclusive index
// spans. The zero value is an empty, ready-to-use set. Sets only ever grow
// through Add; there is no removal operation because loaded and expired
// coverage is monotonic.
type Set struct {
	spans []Span
}

// FromSpans builds a set from arbitrary, possibly overlapping spans.
func FromSpans(spans ...Span) *Set {
	set := &Set{}
	for _, span := range spans {
		set.Add(span.Start, span.End)
	}
	return set
}

// Add unions the inclusive range [start, end] into the set, merging any spans
// it overlaps or abuts. Inverted ranges are ignored.
func (set *Set) Add(start, end chat.EventIndex) {
	if end < start {
		return
	}

	insertAt := sort.Search(len(set.spans), func(i int) bool {
		return set.spans[i].End+1 >= start
	})

	mergedStart, mergedEnd := start, end
	removeUpTo := insertAt
	for removeUpTo < len(set.spans) && set.spans[removeUpTo].Start <= end+1 {
		if set.spans[removeUpTo].Start < mergedStart {
			mergedStart = set.spans[removeUpTo].Start
		}
		if set.spans[removeUpTo].End > mergedEnd {
			mergedEnd = set.spans[removeUpTo].End
		}
		removeUpTo++
	}

	merged := append(set.spans[:insertAt:insertAt], Span{Start: mergedStart, End: mergedEnd})
	set.spans = append(merged, set.spans[removeUpTo:]...)
}

// AddSet unions every span of the other set into this one.
func (set *Set) AddSet(other *Set) {
	if other == nil {
		return
	}
	for _, span := range other.spans {
		set.Add(span.Start, span.End)
	}
}

// Contains reports whether the index is covered by any span.
func (set *Set) Contains(index chat.EventIndex) bool {
	position := sort.Search(len(set.spans), func(i int) bool {
		return set.spans[i].End >= index
	})
	return position < len(set.spans) && set.spans[position].Contains(index)
}

// Covers reports whether the whole inclusive range [start, end] is covered by
// a single span.
func (set *Set) Covers(start, end chat.EventIndex) bool {
	position := sort.Search(len(set.spans), func(i int) bool {
		return set.spans[i].End >= start
	})
	return position < len(set.spans) &&
		set.spans[position].Start <= start &&
		set.spans[position].End >= end
}

// IsEmpty reports whether the set contains no indices.
func (set *Set) IsEmpty() bool {
	return len(set.spans) == 0
}

// Subranges returns the disjoint spans in ascending order. The slice is a
// copy and safe to retain.
func (set *Set) Subranges() []Span {
	out := make([]Span, len(set.spans))
	copy(out, set.spans)
	return out
}

// Min returns the lowest covered index.
func (set *Set) Min() (chat.EventIndex, bool) {
	if len(set.spans) == 0 {
		return 0, false
	}
	return set.spans[0].Start, true
}

// Max returns the highest covered index.
func (set *Set) Max() (chat.EventIndex, bool) {
	if len(set.spans) == 0 {
		return 0, false
	}
	return set.spans[len(set.spans)-1].End, true
}

// SpanContaining returns the span covering the given index.
func (set *Set) SpanContaining(index chat.EventIndex) (Span, bool) {
	position := sort.Search(len(set.spans), func(i int) bool {
		return set.spans[i].End >= index
	})
	if position < len(set.spans) && set.spans[position].Contains(index) {
		return set.spans[position], true
	}
	return Span{}, false
}

// MissingWithin returns every index in [start, end] not covered by the set,
// ascending.
func (set *Set) MissingWithin(start, end chat.EventIndex) []chat.EventIndex {
	var missing []chat.EventIndex
	cursor := start
	for _, span := range set.spans {
		if span.End < cursor {
			continue
		}
		if span.Start > end {
			break
		}
		for cursor < span.Start && cursor <= end {
			missing = append(missing, cursor)
			cursor++
		}
		if span.End >= cursor {
			cursor = span.End + 1
		}
	}
	for cursor <= end {
		missing = append(missing, cursor)
		cursor++
	}
	return missing
}

// Clone returns an independent copy of the set.
func (set *Set) Clone() *Set {
	clone := &Set{spans: make([]Span, len(set.spans))}
	copy(clone.spans, set.spans)
	return clone
}

// String renders the set for logs and test failures.
func (set *Set) String() string {
	parts := make([]string, 0, len(set.spans))
	for _, span := range set.spans {
		parts = append(parts, fmt.Sprintf("[%d..%d]", span.Start, span.End))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
