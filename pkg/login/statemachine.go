// Package login implements the per-node 10-state alias-acquisition
// sequence (spec.md §4.5). It plays the role the teacher's pkg/lss
// package plays for CANopen: both negotiate a small numeric address
// over the bus before normal traffic starts, but where LSS is a
// master-driven request/response exchange, alias acquisition is
// unilateral and collision-driven — closer in shape to the teacher's
// NMT bootstrap state progression (pkg/nmt), which this package
// mirrors: an explicit State enum, one state transition per Step call,
// no blocking.
package login

import (
	"github.com/jimkueneman/lcc-go/pkg/alias"
	"github.com/jimkueneman/lcc-go/pkg/buffer"
	"github.com/jimkueneman/lcc-go/pkg/can"
	"github.com/jimkueneman/lcc-go/pkg/mti"
)

// State is one of the 10 login states (spec.md §4.5 table), plus the
// terminal Run marker a node reaches once permitted.
type State uint8

const (
	Init State = iota
	GenerateSeed
	GenerateAlias
	LoadCID7
	LoadCID6
	LoadCID5
	LoadCID4
	Wait200ms
	LoadRID
	LoadAMD
	Run
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case GenerateSeed:
		return "GenerateSeed"
	case GenerateAlias:
		return "GenerateAlias"
	case LoadCID7:
		return "LoadCID7"
	case LoadCID6:
		return "LoadCID6"
	case LoadCID5:
		return "LoadCID5"
	case LoadCID4:
		return "LoadCID4"
	case Wait200ms:
		return "Wait200ms"
	case LoadRID:
		return "LoadRID"
	case LoadAMD:
		return "LoadAMD"
	case Run:
		return "Run"
	default:
		return "Unknown"
	}
}

// WaitTicksRequired is the minimum number of 100ms ticks (spec.md
// §4.10) that must elapse between LoadCID4 and LoadRID.
const WaitTicksRequired = 2

// Node is the subset of a node record (spec.md §3 "Node record") the
// login state machine reads and mutates. pkg/node.Node implements it;
// kept as an interface here so this package never imports pkg/node.
type Node interface {
	NodeID() uint64
	Alias() uint16
	SetAlias(uint16)
	Seed() uint64
	SetSeed(uint64)

	RunState() State
	SetRunState(State)

	SetPermitted(bool)
	SetInitialized(bool)
	DuplicateAliasDetected() bool
	SetDuplicateAliasDetected(bool)
	SetDatagramAckSent(bool)
	SetResendDatagram(bool)

	HeldDatagram() *buffer.Message
	FreeHeldDatagram()

	LoginWaitTicks() int
	ResetLoginWaitTicks()
}

// Step advances node's login state machine by at most one state and
// returns at most one outgoing CAN frame (spec.md §4.5).
func Step(n Node, aliases *alias.Map) (frame can.Frame, hasFrame bool) {
	switch n.RunState() {

	case Init:
		n.SetPermitted(false)
		n.SetInitialized(false)
		n.SetDuplicateAliasDetected(false)
		n.SetDatagramAckSent(false)
		n.SetRunState(GenerateSeed)

	case GenerateSeed:
		n.SetSeed(n.NodeID() & seedMask)
		n.SetRunState(GenerateAlias)

	case GenerateAlias:
		seed := n.Seed()
		var candidate uint16
		for {
			seed = nextSeed(seed)
			candidate = foldAlias(seed)
			if candidate != 0 && aliases.FindByAlias(candidate) == nil {
				break
			}
		}
		n.SetSeed(seed)
		n.SetAlias(candidate)
		n.SetRunState(LoadCID7)

	case LoadCID7:
		frame = buildCID(mti.FrameTypeCID7, nodeIDSlice(n.NodeID(), 36), n.Alias())
		hasFrame = true
		n.SetRunState(LoadCID6)

	case LoadCID6:
		frame = buildCID(mti.FrameTypeCID6, nodeIDSlice(n.NodeID(), 24), n.Alias())
		hasFrame = true
		n.SetRunState(LoadCID5)

	case LoadCID5:
		frame = buildCID(mti.FrameTypeCID5, nodeIDSlice(n.NodeID(), 12), n.Alias())
		hasFrame = true
		n.SetRunState(LoadCID4)

	case LoadCID4:
		frame = buildCID(mti.FrameTypeCID4, nodeIDSlice(n.NodeID(), 0), n.Alias())
		hasFrame = true
		n.ResetLoginWaitTicks()
		n.SetRunState(Wait200ms)

	case Wait200ms:
		if n.DuplicateAliasDetected() {
			Reset(n, aliases)
			return frame, hasFrame
		}
		if n.LoginWaitTicks() >= WaitTicksRequired {
			n.SetRunState(LoadRID)
		}

	case LoadRID:
		frame = buildControlFrame(mti.OpcodeRID, n.Alias())
		hasFrame = true
		aliases.Register(n.Alias(), n.NodeID())
		n.SetRunState(LoadAMD)

	case LoadAMD:
		frame = buildAMDFrame(n.Alias(), n.NodeID())
		hasFrame = true
		n.SetPermitted(true)
		n.SetInitialized(true)
		n.SetRunState(Run)

	case Run:
		// Login complete; nothing further to do here.
	}
	return frame, hasFrame
}

// Reset returns node to GenerateSeed, undoing any partial alias claim:
// unregisters the mapping (if any), clears permitted/initialized/
// datagram-ack state, and frees a held datagram (spec.md §4.5 "During
// Wait200ms... the state machine resets").
func Reset(n Node, aliases *alias.Map) {
	aliases.Unregister(n.Alias())
	n.SetPermitted(false)
	n.SetInitialized(false)
	n.SetDatagramAckSent(false)
	n.SetResendDatagram(false)
	if n.HeldDatagram() != nil {
		n.FreeHeldDatagram()
	}
	n.SetDuplicateAliasDetected(false)
	n.SetRunState(GenerateSeed)
}

const seedMask = 0xFFFFFFFFFFFF // 48 bits

// nextSeed applies the OpenLCB standard pseudo-random alias generator
// update to a 48-bit seed (spec.md §4.5).
func nextSeed(seed uint64) uint64 {
	seed &= seedMask
	next := (seed << 9) ^ (seed << 1) ^ seed
	return next & seedMask
}

// foldAlias folds a 48-bit generator result into a 12-bit alias by
// XORing its four 12-bit slices (spec.md §4.5).
func foldAlias(seed uint64) uint16 {
	a := uint16(seed & 0xFFF)
	a ^= uint16((seed >> 12) & 0xFFF)
	a ^= uint16((seed >> 24) & 0xFFF)
	a ^= uint16((seed >> 36) & 0xFFF)
	return a
}

// nodeIDSlice extracts the 12-bit slice of a 48-bit node ID starting
// at bit offset (36, 24, 12, or 0), for the four CID frames.
func nodeIDSlice(nodeID uint64, offset uint) uint16 {
	return uint16((nodeID >> offset) & 0xFFF)
}

func buildCID(frameType mti.FrameType, nodeIDSlice uint16, alias uint16) can.Frame {
	id := can.ConvertCIDToCanID(frameType, nodeIDSlice, alias)
	return can.NewFrame(id, 0)
}

func buildControlFrame(op mti.ControlOpcode, alias uint16) can.Frame {
	id := can.ConvertControlOpcodeToCanID(op, alias)
	return can.NewFrame(id, 0)
}

// buildAMDFrame builds the Alias-Map-Definition frame announcing
// (alias, node_id); payload is the 6-byte node ID, MSB first
// (spec.md §8 scenario S1).
func buildAMDFrame(alias uint16, nodeID uint64) can.Frame {
	id := can.ConvertControlOpcodeToCanID(mti.OpcodeAMD, alias)
	frame := can.NewFrame(id, 6)
	putNodeID(&frame.Data, nodeID)
	return frame
}

// buildAMRFrame builds the Alias-Map-Reset frame relinquishing alias,
// with the same 6-byte node-ID payload convention as AMD.
func buildAMRFrame(alias uint16, nodeID uint64) can.Frame {
	id := can.ConvertControlOpcodeToCanID(mti.OpcodeAMR, alias)
	frame := can.NewFrame(id, 6)
	putNodeID(&frame.Data, nodeID)
	return frame
}

// BuildAMRFrame exposes buildAMRFrame for use by the RX assembler's
// duplicate-detection path (spec.md §4.6), which emits AMR without
// going through the login state machine.
func BuildAMRFrame(alias uint16, nodeID uint64) can.Frame {
	return buildAMRFrame(alias, nodeID)
}

func putNodeID(data *[8]byte, nodeID uint64) {
	data[0] = byte(nodeID >> 40)
	data[1] = byte(nodeID >> 32)
	data[2] = byte(nodeID >> 24)
	data[3] = byte(nodeID >> 16)
	data[4] = byte(nodeID >> 8)
	data[5] = byte(nodeID)
}
