// Package rx implements the receive-side frame assembler: it
// dispatches incoming CAN frames, reassembles multi-frame OpenLCB
// messages, and synthesizes reject replies for malformed sequences
// (spec.md §4.6). The teacher's nearest analog is canopen.BusManager.Handle
// fanning a frame out to per-CAN-ID subscribers (bus_manager.go); here
// dispatch is by frame *content* (control vs. message, frame type,
// framing bits) rather than by a fixed subscriber table, since OpenLCB
// multiplexes many message kinds onto aliases that change over a
// node's lifetime.
package rx

import (
	"github.com/sirupsen/logrus"

	"github.com/jimkueneman/lcc-go/pkg/alias"
	"github.com/jimkueneman/lcc-go/pkg/buffer"
	"github.com/jimkueneman/lcc-go/pkg/can"
	"github.com/jimkueneman/lcc-go/pkg/login"
	"github.com/jimkueneman/lcc-go/pkg/mti"
	"github.com/jimkueneman/lcc-go/pkg/node"
)

// legacySnipGuard caps the number of "only" frames accumulated for a
// single legacy-SNIP reply before the assembler gives up, resolving
// spec.md §9's open question about malformed payloads stalling the
// assembler indefinitely.
const legacySnipGuard = 64

// legacySnipTerminator is the number of accumulated null bytes that
// marks the end of a legacy (un-framed) SNIP reply (spec.md §4.6,
// §9).
const legacySnipTerminator = 6

type legacyKey struct {
	src uint16
	dst uint16
}

type legacyAssembly struct {
	msg        *buffer.Message
	nullCount  int
	frameCount int
}

// Assembler is the RX-side state shared with the rest of the core: the
// buffer pool, alias map, in-progress index, completed FIFO, and the
// node registry (needed for CID/AME defense and datagram delivery). It
// takes no lock itself; the caller holds the shared-resource lock
// around Handle.
type Assembler struct {
	Store      *buffer.Store
	Aliases    *alias.Map
	InProgress *buffer.InProgressIndex
	Completed  *buffer.CompletedFIFO
	TxFIFO     *buffer.TxFIFO
	Registry   *node.Registry
	Observer   func(can.Frame)
	Logger     *logrus.Logger

	legacy map[legacyKey]*legacyAssembly
}

func NewAssembler(
	store *buffer.Store,
	aliases *alias.Map,
	inProgress *buffer.InProgressIndex,
	completed *buffer.CompletedFIFO,
	txFIFO *buffer.TxFIFO,
	registry *node.Registry,
) *Assembler {
	return &Assembler{
		Store:      store,
		Aliases:    aliases,
		InProgress: inProgress,
		Completed:  completed,
		TxFIFO:     txFIFO,
		Registry:   registry,
		Logger:     logrus.StandardLogger(),
		legacy:     make(map[legacyKey]*legacyAssembly),
	}
}

// Handle implements can.FrameListener; it is the single entry point
// the platform CAN driver calls per received frame (spec.md §4.6
// step 1-3).
func (a *Assembler) Handle(frame can.Frame) {
	if a.Observer != nil {
		a.Observer(frame)
	}

	if !can.IsOpenLcbMessage(frame.ID) {
		a.dispatchControl(frame)
		return
	}
	a.dispatchMessage(frame)
}

func (a *Assembler) dispatchControl(frame can.Frame) {
	frameType := can.ExtractFrameType(frame.ID)
	sourceAlias := can.ExtractSourceAlias(frame.ID)

	switch frameType {
	case mti.FrameTypeCID7, mti.FrameTypeCID6, mti.FrameTypeCID5, mti.FrameTypeCID4:
		a.handleCID(sourceAlias)
		return
	}

	// frameType == FrameTypeControl: opcode carried in bits 23-12.
	op := can.ExtractOpcode(frame.ID)
	switch op {
	case mti.OpcodeRID, mti.OpcodeAMD, mti.OpcodeAMR,
		mti.OpcodeErrorInfoReport0, mti.OpcodeErrorInfoReport1,
		mti.OpcodeErrorInfoReport2, mti.OpcodeErrorInfoReport3:
		a.checkForDuplicate(sourceAlias)
	case mti.OpcodeAME:
		a.handleAME(frame, sourceAlias)
	default:
		// Unknown opcode: ignored (spec.md §4.6).
	}
}

// handleCID defends our alias: if the claimed alias (the CID frame's
// own source alias field) matches one of ours, enqueue a RID frame
// (spec.md §4.6 "CID(n): if the claimed alias matches one of ours...").
func (a *Assembler) handleCID(claimedAlias uint16) {
	n := a.Registry.FindByAlias(claimedAlias)
	if n == nil {
		return
	}
	id := can.ConvertControlOpcodeToCanID(mti.OpcodeRID, claimedAlias)
	a.pushControlFrame(can.NewFrame(id, 0))
}

// checkForDuplicate is the generic "is this alias ours" routine shared
// by RID, AMD, AMR, and Error-Info-Report receipt (spec.md §4.6).
func (a *Assembler) checkForDuplicate(sourceAlias uint16) {
	entry := a.Aliases.FindByAlias(sourceAlias)
	if entry == nil {
		return
	}
	entry.IsDuplicate = true
	a.Aliases.SetDuplicateFlag()
	if entry.IsPermitted {
		frame := login.BuildAMRFrame(sourceAlias, entry.NodeID)
		a.pushControlFrame(frame)
	}
	if n := a.Registry.FindByAlias(sourceAlias); n != nil {
		n.SetDuplicateAliasDetected(true)
	}
}

// handleAME answers an Alias-Map-Enquiry: one AMD if the requested
// node ID is ours, or one AMD per registered alias if the payload is
// empty (spec.md §4.6).
func (a *Assembler) handleAME(frame can.Frame, sourceAlias uint16) {
	if frame.DLC == 0 {
		a.Aliases.Each(func(e *alias.Entry) {
			id := can.ConvertControlOpcodeToCanID(mti.OpcodeAMD, e.Alias)
			out := can.NewFrame(id, 6)
			putNodeID(&out.Data, e.NodeID)
			a.pushControlFrame(out)
		})
		return
	}
	requested := readNodeID(frame.Data[:6])
	entry := a.Aliases.FindByNodeID(requested)
	if entry == nil {
		return
	}
	id := can.ConvertControlOpcodeToCanID(mti.OpcodeAMD, entry.Alias)
	out := can.NewFrame(id, 6)
	putNodeID(&out.Data, entry.NodeID)
	a.pushControlFrame(out)
}

func (a *Assembler) pushControlFrame(frame can.Frame) {
	if !a.TxFIFO.Push(frame) {
		a.Logger.Warn("rx: CAN transmit FIFO full, dropping control reply")
	}
}

func (a *Assembler) dispatchMessage(frame can.Frame) {
	frameType := can.ExtractFrameType(frame.ID)
	sourceAlias := can.ExtractSourceAlias(frame.ID)

	switch frameType {
	case mti.FrameTypeDatagramOnly, mti.FrameTypeDatagramFirst,
		mti.FrameTypeDatagramMiddle, mti.FrameTypeDatagramFinal:
		destAlias := can.ExtractDestAlias(frame.ID)
		if a.Aliases.FindByAlias(destAlias) == nil {
			return
		}
		a.dispatchDatagramFrame(frameType, frame, sourceAlias, destAlias)
		return

	case mti.FrameTypeStream:
		destAlias := can.ExtractDestAliasPayload(frame.Data)
		if a.Aliases.FindByAlias(destAlias) == nil {
			return
		}
		a.stream(frame, 2, buffer.Stream)
		return
	}

	// frameType == FrameTypeStandard
	m := can.ExtractMTI(frame.ID)
	if m.IsAddressed() {
		destAlias := can.ExtractDestAliasPayload(frame.Data)
		if a.Aliases.FindByAlias(destAlias) == nil {
			return
		}
		framing := can.ExtractFramingBits(frame.Data[0])
		switch framing {
		case can.FramingOnly:
			if m == mti.SNIPReply {
				a.snipLegacy(frame, sourceAlias, destAlias)
				return
			}
			a.single(frame, 2, m, sourceAlias, destAlias, buffer.Basic)
		case can.FramingFirst:
			kind := buffer.Basic
			if m == mti.SNIPReply {
				kind = buffer.Snip
			}
			a.first(frame, 2, m, sourceAlias, destAlias, kind)
		case can.FramingMiddle:
			a.middle(frame, 2, m, sourceAlias, destAlias)
		case can.FramingFinal:
			a.last(frame, 2, m, sourceAlias, destAlias)
		}
		return
	}

	// Unaddressed standard frame.
	switch m {
	case mti.PCEREventsFirst:
		a.first(frame, 0, m, sourceAlias, 0, buffer.Snip)
	case mti.PCEREventsMiddle:
		a.middle(frame, 0, m, sourceAlias, 0)
	case mti.PCEREventsLast:
		a.last(frame, 0, m, sourceAlias, 0)
	default:
		a.single(frame, 0, m, sourceAlias, 0, buffer.Basic)
	}
}

func (a *Assembler) dispatchDatagramFrame(frameType mti.FrameType, frame can.Frame, sourceAlias, destAlias uint16) {
	switch frameType {
	case mti.FrameTypeDatagramOnly:
		a.single(frame, 0, mti.Datagram, sourceAlias, destAlias, buffer.Datagram)
	case mti.FrameTypeDatagramFirst:
		a.first(frame, 0, mti.Datagram, sourceAlias, destAlias, buffer.Datagram)
	case mti.FrameTypeDatagramMiddle:
		a.middle(frame, 0, mti.Datagram, sourceAlias, destAlias)
	case mti.FrameTypeDatagramFinal:
		a.last(frame, 0, mti.Datagram, sourceAlias, destAlias)
	}
}

// single allocates a record, copies header and payload, and pushes it
// straight to the completed FIFO (spec.md §4.6).
func (a *Assembler) single(frame can.Frame, offset int, m mti.MTI, sourceAlias, destAlias uint16, kind buffer.PayloadKind) {
	msg := a.Store.Allocate(kind)
	if msg == nil {
		a.reject(m, sourceAlias, destAlias, mti.ErrorTemporaryBufferUnavailable)
		return
	}
	msg.MTI = m
	msg.SourceAlias = sourceAlias
	msg.DestAlias = destAlias
	msg.SetPayload(frame.Data[offset:frame.DLC])
	a.pushCompleted(msg)
}

// first begins a multi-frame assembly. Finding an existing in-progress
// entry for the same key is a protocol violation from the sender
// (spec.md §4.6).
func (a *Assembler) first(frame can.Frame, offset int, m mti.MTI, sourceAlias, destAlias uint16, kind buffer.PayloadKind) {
	if a.InProgress.Find(sourceAlias, destAlias, m) != nil {
		a.reject(m, sourceAlias, destAlias, mti.ErrorTemporaryOutOfOrderStartBeforeLastEnd)
		return
	}
	msg := a.Store.Allocate(kind)
	if msg == nil {
		a.reject(m, sourceAlias, destAlias, mti.ErrorTemporaryBufferUnavailable)
		return
	}
	msg.MTI = m
	msg.SourceAlias = sourceAlias
	msg.DestAlias = destAlias
	msg.InProcess = true
	msg.AppendPayload(frame.Data[offset:frame.DLC])
	a.InProgress.Add(sourceAlias, destAlias, m, msg)
}

func (a *Assembler) middle(frame can.Frame, offset int, m mti.MTI, sourceAlias, destAlias uint16) {
	msg := a.InProgress.Find(sourceAlias, destAlias, m)
	if msg == nil {
		a.reject(m, sourceAlias, destAlias, mti.ErrorTemporaryOutOfOrderMiddleEndWithNoStart)
		return
	}
	msg.AppendPayload(frame.Data[offset:frame.DLC])
}

func (a *Assembler) last(frame can.Frame, offset int, m mti.MTI, sourceAlias, destAlias uint16) {
	msg := a.InProgress.Find(sourceAlias, destAlias, m)
	if msg == nil {
		a.reject(m, sourceAlias, destAlias, mti.ErrorTemporaryOutOfOrderMiddleEndWithNoStart)
		return
	}
	msg.AppendPayload(frame.Data[offset:frame.DLC])
	msg.InProcess = false
	a.InProgress.Release(sourceAlias, destAlias, m)
	a.pushCompleted(msg)
}

// stream is a reserved extension point: spec.md §4.6/§9 leave the
// reassembly policy undefined, so this refuses reception rather than
// silently accumulating or dropping (Open Question resolution in
// SPEC_FULL.md).
func (a *Assembler) stream(frame can.Frame, offset int, kind buffer.PayloadKind) {
	sourceAlias := can.ExtractSourceAlias(frame.ID)
	destAlias := can.ExtractDestAliasPayload(frame.Data)
	msg := a.Store.Allocate(kind)
	if msg == nil {
		return
	}
	msg.MTI = mti.StreamInitRequest
	msg.SourceAlias = sourceAlias
	msg.DestAlias = destAlias
	msg.SetPayload(frame.Data[offset:frame.DLC])
	a.Logger.Warn("rx: stream reception is not implemented, rejecting")
	a.rejectMessage(msg, mti.ErrorPermanentNotImplemented)
}

// snipLegacy reassembles an un-framed legacy SNIP reply, which has no
// first/middle/final framing bits and instead terminates after six
// accumulated null bytes (spec.md §4.6, §9).
func (a *Assembler) snipLegacy(frame can.Frame, sourceAlias, destAlias uint16) {
	key := legacyKey{src: sourceAlias, dst: destAlias}
	asm, ok := a.legacy[key]
	if !ok {
		msg := a.Store.Allocate(buffer.Snip)
		if msg == nil {
			a.reject(mti.SNIPReply, sourceAlias, destAlias, mti.ErrorTemporaryBufferUnavailable)
			return
		}
		msg.MTI = mti.SNIPReply
		msg.SourceAlias = sourceAlias
		msg.DestAlias = destAlias
		asm = &legacyAssembly{msg: msg}
		a.legacy[key] = asm
	}

	asm.frameCount++
	if asm.frameCount > legacySnipGuard {
		a.Logger.Warn("rx: legacy SNIP reassembly exceeded frame guard, dropping")
		_ = a.Store.Free(asm.msg)
		delete(a.legacy, key)
		return
	}

	payload := frame.Data[2:frame.DLC]
	asm.msg.AppendPayload(payload)
	for _, b := range payload {
		if b == 0 {
			asm.nullCount++
		}
	}

	if asm.nullCount >= legacySnipTerminator {
		delete(a.legacy, key)
		a.pushCompleted(asm.msg)
	}
}

func (a *Assembler) pushCompleted(msg *buffer.Message) {
	if !a.Completed.Push(a.Store, msg) {
		a.Logger.Warn("rx: completed FIFO full, dropping assembled message")
		_ = a.Store.Free(msg)
	}
}

// reject synthesizes an ERROR reply for a protocol violation and
// pushes it to the completed FIFO for the main dispatcher to forward
// (spec.md §4.6, §7).
func (a *Assembler) reject(originalMTI mti.MTI, peerAlias, ourAlias uint16, code mti.RejectCode) {
	isDatagram := originalMTI == mti.Datagram
	replyMTI := mti.OptionalInteractionRejected
	if isDatagram {
		replyMTI = mti.DatagramRejectedReply
	}
	msg := a.Store.Allocate(buffer.Basic)
	if msg == nil {
		return
	}
	msg.MTI = replyMTI
	msg.SourceAlias = ourAlias
	msg.DestAlias = peerAlias
	// Payload carries the rejected message's own destination alias
	// (ours), not the reply's destination (spec.md §4.6, §8 scenario
	// S5: "[0x0B,0xBB, 0x20,0x49]" where 0x0BBB is the alias the
	// malformed frame was addressed to).
	payload := [4]byte{byte(ourAlias >> 8), byte(ourAlias), byte(uint16(code) >> 8), byte(uint16(code))}
	msg.SetPayload(payload[:])
	a.pushCompleted(msg)
}

func (a *Assembler) rejectMessage(msg *buffer.Message, code mti.RejectCode) {
	// Free clears the record, so the header is read before releasing it.
	m, sourceAlias, destAlias := msg.MTI, msg.SourceAlias, msg.DestAlias
	_ = a.Store.Free(msg)
	a.reject(m, sourceAlias, destAlias, code)
}

func putNodeID(data *[8]byte, nodeID uint64) {
	data[0] = byte(nodeID >> 40)
	data[1] = byte(nodeID >> 32)
	data[2] = byte(nodeID >> 24)
	data[3] = byte(nodeID >> 16)
	data[4] = byte(nodeID >> 8)
	data[5] = byte(nodeID)
}

func readNodeID(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}
