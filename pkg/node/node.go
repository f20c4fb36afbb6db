// Package node implements the fixed-size node-record pool (spec.md
// §3, §4.9 "Node Registry"). It plays the role the teacher's pkg/node
// package plays for gocanopen (BaseNode wraps per-node protocol
// clients and enumeration state), generalized from "one CANopen
// client per remote node" to "one virtual OpenLCB node record, never
// freed, looked up by alias or walked by enumeration cursor."
package node

import (
	"github.com/jimkueneman/lcc-go/pkg/buffer"
	"github.com/jimkueneman/lcc-go/pkg/can"
	"github.com/jimkueneman/lcc-go/pkg/config"
	"github.com/jimkueneman/lcc-go/pkg/login"
)

// EventList holds a node's producer or consumer event IDs plus the
// enumeration cursor used to answer Identify-* requests one event per
// dispatcher turn (spec.md §3 "enumeration cursors").
type EventList struct {
	Events []uint64
	cursor int
}

func (l *EventList) Add(eventID uint64) {
	l.Events = append(l.Events, eventID)
}

func (l *EventList) Remove(eventID uint64) {
	for i, id := range l.Events {
		if id == eventID {
			l.Events = append(l.Events[:i], l.Events[i+1:]...)
			return
		}
	}
}

// ResetCursor rewinds enumeration to the first event.
func (l *EventList) ResetCursor() { l.cursor = 0 }

// Next returns the next event in enumeration order, or (0, false) once
// every event has been visited.
func (l *EventList) Next() (uint64, bool) {
	if l.cursor >= len(l.Events) {
		return 0, false
	}
	id := l.Events[l.cursor]
	l.cursor++
	return id, true
}

// Node is one virtual-node record (spec.md §3 "Node record"). Fields
// are exported for the dispatcher and RX/TX paths that operate
// directly on them under the shared-resource lock (spec.md §5);
// login-machine access goes through the login.Node interface methods
// below.
type Node struct {
	NodeIDValue uint64
	AliasValue  uint16
	SeedValue   uint64

	Allocated             bool
	Permitted             bool
	Initialized           bool
	DuplicateIDDetected   bool
	DuplicateAliasFlag    bool
	DatagramAckSent       bool
	ResendDatagram        bool
	FirmwareUpgradeActive bool

	RunStateValue  login.State
	loginWaitTicks int

	// PendingFrame holds a CAN frame the login state machine produced
	// on its last Step that has not yet been handed to the driver
	// (spec.md §4.8 step 3).
	PendingFrame      can.Frame
	PendingFrameValid bool

	Producers EventList
	Consumers EventList

	HeldDatagramMsg *buffer.Message
	store           *buffer.Store

	Params *config.NodeParameters

	TimerTicks int
}

// login.Node interface implementation -- kept in one block so the
// contract this package satisfies is easy to audit.

func (n *Node) NodeID() uint64    { return n.NodeIDValue }
func (n *Node) Alias() uint16     { return n.AliasValue }
func (n *Node) SetAlias(a uint16) { n.AliasValue = a }
func (n *Node) Seed() uint64      { return n.SeedValue }
func (n *Node) SetSeed(s uint64)  { n.SeedValue = s }
func (n *Node) RunState() login.State     { return n.RunStateValue }
func (n *Node) SetRunState(s login.State) { n.RunStateValue = s }
func (n *Node) SetPermitted(v bool)       { n.Permitted = v }
func (n *Node) SetInitialized(v bool)     { n.Initialized = v }
func (n *Node) DuplicateAliasDetected() bool     { return n.DuplicateAliasFlag }
func (n *Node) SetDuplicateAliasDetected(v bool) { n.DuplicateAliasFlag = v }
func (n *Node) SetDatagramAckSent(v bool)        { n.DatagramAckSent = v }
func (n *Node) SetResendDatagram(v bool)         { n.ResendDatagram = v }
func (n *Node) HeldDatagram() *buffer.Message    { return n.HeldDatagramMsg }
func (n *Node) FreeHeldDatagram() {
	if n.HeldDatagramMsg != nil && n.store != nil {
		_ = n.store.Free(n.HeldDatagramMsg)
	}
	n.HeldDatagramMsg = nil
}
func (n *Node) LoginWaitTicks() int  { return n.loginWaitTicks }
func (n *Node) ResetLoginWaitTicks() { n.loginWaitTicks = 0 }

// IncLoginWaitTicks is called by the 100ms timer (spec.md §4.10).
func (n *Node) IncLoginWaitTicks() { n.loginWaitTicks++ }

var _ login.Node = (*Node)(nil)

// EnumeratorTag selects one of several independent walk cursors kept
// by the registry (spec.md §4.9, §9 "multiple enumeration cursors").
type EnumeratorTag uint8

const (
	EnumeratorDispatch EnumeratorTag = iota
	EnumeratorProtocolSupport
	numEnumerators
)

// Registry is the fixed-size, never-shrinking table of node records
// (spec.md §4.9). Nodes are allocated but never freed.
type Registry struct {
	nodes  []Node
	cursor [numEnumerators]int
}

func NewRegistry(depth int) *Registry {
	return &Registry{nodes: make([]Node, 0, depth)}
}

// Allocate finds the first free slot, clears it, records params, and
// returns it. Returns nil if the table is full.
func (r *Registry) Allocate(nodeID uint64, params *config.NodeParameters, store *buffer.Store) *Node {
	if len(r.nodes) >= cap(r.nodes) {
		return nil
	}
	r.nodes = append(r.nodes, Node{
		NodeIDValue:   nodeID,
		Allocated:     true,
		Params:        params,
		store:         store,
		RunStateValue: login.Init,
	})
	return &r.nodes[len(r.nodes)-1]
}

func (r *Registry) Len() int { return len(r.nodes) }

// FindByAlias performs a linear search over allocated nodes.
func (r *Registry) FindByAlias(alias uint16) *Node {
	for i := range r.nodes {
		if r.nodes[i].AliasValue == alias {
			return &r.nodes[i]
		}
	}
	return nil
}

// FindByNodeID performs a linear search over allocated nodes.
func (r *Registry) FindByNodeID(nodeID uint64) *Node {
	for i := range r.nodes {
		if r.nodes[i].NodeIDValue == nodeID {
			return &r.nodes[i]
		}
	}
	return nil
}

// GetFirst resets tag's enumeration cursor and returns the first node,
// or nil if the registry is empty.
func (r *Registry) GetFirst(tag EnumeratorTag) *Node {
	r.cursor[tag] = 0
	return r.current(tag)
}

// GetNext advances tag's cursor and returns the next node, or nil once
// every node has been visited.
func (r *Registry) GetNext(tag EnumeratorTag) *Node {
	r.cursor[tag]++
	return r.current(tag)
}

func (r *Registry) current(tag EnumeratorTag) *Node {
	idx := r.cursor[tag]
	if idx < 0 || idx >= len(r.nodes) {
		return nil
	}
	return &r.nodes[idx]
}

// Each calls fn for every allocated node, in allocation order.
func (r *Registry) Each(fn func(n *Node)) {
	for i := range r.nodes {
		fn(&r.nodes[i])
	}
}
