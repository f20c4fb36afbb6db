package buffer

import "github.com/jimkueneman/lcc-go/pkg/mti"

// inProgressKey identifies one multi-frame assembly in flight
// (spec.md §3, §4.4).
type inProgressKey struct {
	sourceAlias uint16
	destAlias   uint16
	mti         mti.MTI
}

// InProgressIndex is the set of references keyed by
// (source_alias, dest_alias, mti) (spec.md §4.4), held in a map whose
// initial size is the message-buffer depth; the depth is not enforced
// as a limit.
type InProgressIndex struct {
	entries map[inProgressKey]*Message
}

func NewInProgressIndex(depth int) *InProgressIndex {
	return &InProgressIndex{entries: make(map[inProgressKey]*Message, depth)}
}

func (idx *InProgressIndex) Find(sourceAlias, destAlias uint16, m mti.MTI) *Message {
	return idx.entries[inProgressKey{sourceAlias, destAlias, m}]
}

// Add inserts msg under the given key. Adding a key that is already
// present is a caller bug (spec.md §4.4): the caller must have called
// Find first.
func (idx *InProgressIndex) Add(sourceAlias, destAlias uint16, m mti.MTI, msg *Message) {
	key := inProgressKey{sourceAlias, destAlias, m}
	if _, exists := idx.entries[key]; exists {
		panic("buffer: in-progress entry already present for key")
	}
	idx.entries[key] = msg
}

// Release removes the entry for the given key, if any.
func (idx *InProgressIndex) Release(sourceAlias, destAlias uint16, m mti.MTI) {
	delete(idx.entries, inProgressKey{sourceAlias, destAlias, m})
}

func (idx *InProgressIndex) Len() int { return len(idx.entries) }
