// Package alias implements the bidirectional NodeID<->alias mapping
// table with duplicate-alias detection (spec.md §3, §4.2). It plays
// the role the teacher's pkg/lss package plays for CANopen node-ID
// assignment (LSS negotiates a 7-bit node-ID over a request/response
// handshake; here the map is the receive side of record-keeping for
// the CAN alias each of our nodes has claimed), implemented as the
// teacher implements its flat lookup tables: a linear array scanned
// on every query, sized to the node count.
package alias

const (
	MinAlias  = 0x001
	MaxAlias  = 0xFFF
	MinNodeID = 1
	MaxNodeID = 0xFFFFFFFFFFFF
)

// Entry is one alias mapping slot (spec.md §3). A slot with
// Alias==0 && NodeID==0 is empty.
type Entry struct {
	Alias       uint16
	NodeID      uint64
	IsDuplicate bool
	IsPermitted bool
}

func (e *Entry) empty() bool {
	return e.Alias == 0 && e.NodeID == 0
}

// Map is the fixed-depth alias table plus its summary duplicate flag.
type Map struct {
	slots           []Entry
	hasDuplicateAlias bool
}

func NewMap(depth int) *Map {
	return &Map{slots: make([]Entry, depth)}
}

// Register assigns alias to node_id. If node_id is already present its
// alias is updated in place (same slot); otherwise the first empty
// slot is used. Returns nil if alias or node_id is out of range, or if
// the table is full.
func (m *Map) Register(alias uint16, nodeID uint64) *Entry {
	if alias < MinAlias || alias > MaxAlias {
		return nil
	}
	if nodeID < MinNodeID || nodeID > MaxNodeID {
		return nil
	}

	for i := range m.slots {
		if m.slots[i].NodeID == nodeID && !m.slots[i].empty() {
			m.slots[i].Alias = alias
			return &m.slots[i]
		}
	}

	for i := range m.slots {
		if m.slots[i].empty() {
			m.slots[i] = Entry{Alias: alias, NodeID: nodeID}
			return &m.slots[i]
		}
	}
	return nil
}

// Unregister clears the slot matching alias, including both flags.
func (m *Map) Unregister(alias uint16) {
	for i := range m.slots {
		if m.slots[i].Alias == alias && !m.slots[i].empty() {
			m.slots[i] = Entry{}
			return
		}
	}
}

// FindByAlias returns the slot for alias, or nil if not present.
func (m *Map) FindByAlias(alias uint16) *Entry {
	for i := range m.slots {
		if m.slots[i].Alias == alias && !m.slots[i].empty() {
			return &m.slots[i]
		}
	}
	return nil
}

// FindByNodeID returns the slot for nodeID, or nil if not present.
func (m *Map) FindByNodeID(nodeID uint64) *Entry {
	for i := range m.slots {
		if m.slots[i].NodeID == nodeID && !m.slots[i].empty() {
			return &m.slots[i]
		}
	}
	return nil
}

// Flush clears every slot and the global duplicate flag.
func (m *Map) Flush() {
	for i := range m.slots {
		m.slots[i] = Entry{}
	}
	m.hasDuplicateAlias = false
}

func (m *Map) SetDuplicateFlag()   { m.hasDuplicateAlias = true }
func (m *Map) ClearDuplicateFlag() { m.hasDuplicateAlias = false }
func (m *Map) HasDuplicateAlias() bool { return m.hasDuplicateAlias }

// Each calls fn for every occupied slot, in table order; used by the
// dispatcher to walk duplicates (spec.md §4.8 step 1).
func (m *Map) Each(fn func(e *Entry)) {
	for i := range m.slots {
		if !m.slots[i].empty() {
			fn(&m.slots[i])
		}
	}
}
