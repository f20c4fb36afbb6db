package rx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimkueneman/lcc-go/pkg/alias"
	"github.com/jimkueneman/lcc-go/pkg/buffer"
	"github.com/jimkueneman/lcc-go/pkg/can"
	"github.com/jimkueneman/lcc-go/pkg/login"
	"github.com/jimkueneman/lcc-go/pkg/mti"
	"github.com/jimkueneman/lcc-go/pkg/node"
)

func testDepths() buffer.Depths {
	return buffer.Depths{Basic: 4, Datagram: 4, Snip: 4, Stream: 4}
}

func newTestAssembler(t *testing.T) (*Assembler, *buffer.Store) {
	t.Helper()
	store := buffer.NewStore(testDepths())
	a := NewAssembler(
		store,
		alias.NewMap(4),
		buffer.NewInProgressIndex(4),
		buffer.NewCompletedFIFO(4),
		buffer.NewTxFIFO(4),
		node.NewRegistry(4),
	)
	return a, store
}

// S2, assembler half only: a single-frame Verify-Node-ID-Global is
// assembled and queued to the completed FIFO unchanged. The reply this
// scenario requires (MTI_VERIFIED_NODE_ID) is synthesized downstream
// by the dispatcher (pkg/dispatch), not by this package; see
// TestDispatcherRepliesToVerifyNodeIDGlobal for that half.
func TestHandleSingleFrameAssemblesVerifyNodeIDGlobal(t *testing.T) {
	a, _ := newTestAssembler(t)

	frame := can.NewFrame(0x19490AAA, 0)
	assert.True(t, can.IsOpenLcbMessage(frame.ID))
	assert.Equal(t, mti.FrameTypeStandard, can.ExtractFrameType(frame.ID))
	assert.Equal(t, mti.VerifyNodeIDGlobal, can.ExtractMTI(frame.ID))
	assert.Equal(t, uint16(0xAAA), can.ExtractSourceAlias(frame.ID))

	a.Handle(frame)

	msg, ok := a.Completed.Pop()
	require.True(t, ok, "single global frame must be pushed straight to the completed FIFO")
	assert.Equal(t, mti.VerifyNodeIDGlobal, msg.MTI)
	assert.Equal(t, uint16(0xAAA), msg.SourceAlias)
	assert.Equal(t, 0, msg.PayloadCount)
}

// S3: datagram reassembly across first/middle/final frames.
func TestHandleDatagramReassembly(t *testing.T) {
	a, store := newTestAssembler(t)
	a.Aliases.Register(0xBBB, 0x010203040506)

	first := can.NewFrame(can.ConvertDatagramFrameToCanID(mti.FrameTypeDatagramFirst, 0xAAA, 0xBBB), 6)
	first.Data = [8]byte{0x20, 0x41, 0x00, 0x00, 0x00, 0x00}
	a.Handle(first)
	assert.Equal(t, 1, a.InProgress.Len())

	middle := can.NewFrame(can.ConvertDatagramFrameToCanID(mti.FrameTypeDatagramMiddle, 0xAAA, 0xBBB), 6)
	middle.Data = [8]byte{0x00, 0x40, 0xDE, 0xAD, 0xBE, 0xEF}
	a.Handle(middle)

	final := can.NewFrame(can.ConvertDatagramFrameToCanID(mti.FrameTypeDatagramFinal, 0xAAA, 0xBBB), 2)
	final.Data = [8]byte{0xCA, 0xFE}
	a.Handle(final)

	assert.Equal(t, 0, a.InProgress.Len(), "assembly must be released once the final frame lands")

	msg, ok := a.Completed.Pop()
	require.True(t, ok)
	assert.Equal(t, mti.Datagram, msg.MTI)
	assert.Equal(t, 14, msg.PayloadCount)
	assert.Equal(t, []byte{
		0x20, 0x41, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x40, 0xDE, 0xAD, 0xBE, 0xEF,
		0xCA, 0xFE,
	}, msg.Payload())
	_ = store
}

// S4: duplicate alias detected during RID receipt.
func TestHandleDuplicateAliasEnqueuesAMR(t *testing.T) {
	a, _ := newTestAssembler(t)
	entry := a.Aliases.Register(0xBBB, 0x010203040506)
	entry.IsPermitted = true

	frame := can.NewFrame(0x10700BBB, 0)
	assert.False(t, can.IsOpenLcbMessage(frame.ID))
	assert.Equal(t, mti.OpcodeRID, can.ExtractOpcode(frame.ID))

	a.Handle(frame)

	assert.True(t, entry.IsDuplicate)
	assert.True(t, a.Aliases.HasDuplicateAlias())

	amr, ok := a.TxFIFO.Pop()
	require.True(t, ok, "a permitted duplicate alias must enqueue an AMR frame")
	assert.Equal(t, mti.OpcodeAMR, can.ExtractOpcode(amr.ID))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, amr.Data[:6])
}

// S4 continued: the owning node record is flagged as having a duplicate
// alias. The reset itself is the dispatcher's job; see
// TestDispatcherResetsNodeOnDuplicateAlias.
func TestHandleDuplicateAliasFlagsOwningNode(t *testing.T) {
	a, _ := newTestAssembler(t)
	a.Aliases.Register(0xBBB, 0x010203040506)
	n := a.Registry.Allocate(0x010203040506, nil, nil)
	n.SetAlias(0xBBB)
	n.SetRunState(login.Run)
	n.SetPermitted(true)

	a.Handle(can.NewFrame(0x10700BBB, 0))

	assert.True(t, n.DuplicateAliasDetected())
}

// S5: out-of-order middle frame with no preceding first.
func TestHandleOutOfOrderMiddleFrameRejects(t *testing.T) {
	a, _ := newTestAssembler(t)
	a.Aliases.Register(0xBBB, 0x010203040506)

	middle := can.NewFrame(can.ConvertDatagramFrameToCanID(mti.FrameTypeDatagramMiddle, 0xAAA, 0xBBB), 6)
	middle.Data = [8]byte{0x00, 0x40, 0xDE, 0xAD, 0xBE, 0xEF}

	a.Handle(middle)

	msg, ok := a.Completed.Pop()
	require.True(t, ok)
	assert.Equal(t, mti.DatagramRejectedReply, msg.MTI)
	assert.Equal(t, []byte{0x0B, 0xBB, 0x20, 0x49}, msg.Payload())
}

// S6: AME with a matching node_id produces one AMD reply.
func TestHandleAMEWithMatchingNodeID(t *testing.T) {
	a, _ := newTestAssembler(t)
	a.Aliases.Register(0xBBB, 0x010203040506)

	frame := can.NewFrame(can.ConvertControlOpcodeToCanID(mti.OpcodeAME, 0xDDD), 6)
	frame.Data = [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

	a.Handle(frame)

	amd, ok := a.TxFIFO.Pop()
	require.True(t, ok)
	assert.Equal(t, mti.OpcodeAMD, can.ExtractOpcode(amd.ID))
	assert.Equal(t, uint16(0xBBB), can.ExtractSourceAlias(amd.ID))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, amd.Data[:6])
}

// With the basic pool exhausted the frame cannot be stored, and the
// buffer-unavailable reject cannot be allocated either, so nothing is
// queued.
func TestHandleBufferExhaustionQueuesNothingWhenRejectCannotBeAllocated(t *testing.T) {
	a, _ := newTestAssembler(t)
	a.Aliases.Register(0xBBB, 0x010203040506)

	for i := 0; i < 4; i++ {
		require.NotNil(t, a.Store.Allocate(buffer.Basic))
	}

	frame := can.NewFrame(0x19490AAA, 0)
	a.Handle(frame)
	_, ok := a.Completed.Pop()
	assert.False(t, ok, "a full basic pool has no room even for the reject message itself")
}
