package dispatch

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

// recordingBus is a minimal can.Bus test double that always succeeds
// and records every frame handed to Send.
type recordingBus struct {
	sent []can.Frame
}

func (b *recordingBus) Connect(...any) error           { return nil }
func (b *recordingBus) Disconnect() error               { return nil }
func (b *recordingBus) Subscribe(can.FrameListener) error { return nil }
func (b *recordingBus) Send(frame can.Frame) error {
	b.sent = append(b.sent, frame)
	return nil
}

func testDepths() buffer.Depths {
	return buffer.Depths{Basic: 4, Datagram: 4, Snip: 4, Stream: 4}
}

func newTestDispatcher(t *testing.T, bus *recordingBus) (*Dispatcher, *node.Registry) {
	t.Helper()
	aliases := alias.NewMap(4)
	registry := node.NewRegistry(4)
	store := buffer.NewStore(testDepths())
	completed := buffer.NewCompletedFIFO(8)
	txFIFO := buffer.NewTxFIFO(8)
	d := New(aliases, registry, completed, store, txFIFO, bus)
	return d, registry
}

// Drives a node from Init to Run, advancing the Wait200ms tick
// requirement by hand, and checks the AMD frame reaches the bus.
func TestDispatcherLogsInNodeToRun(t *testing.T) {
	bus := &recordingBus{}
	d, registry := newTestDispatcher(t, bus)
	n := registry.Allocate(0x010203040506, nil, nil)

	// Run a fixed number of cooperative turns: enough to walk every
	// login state and flush the resulting frames one turn later, since
	// handlePendingLoginFrames transmits what enumerateNodes queued on
	// the *previous* turn.
	for i := 0; i < 12; i++ {
		if n.RunState() == login.Wait200ms {
			n.IncLoginWaitTicks()
			n.IncLoginWaitTicks()
		}
		d.Run()
	}

	require.Equal(t, login.Run, n.RunState())
	require.NotEmpty(t, bus.sent)

	last := bus.sent[len(bus.sent)-1]
	assert.Equal(t, mti.OpcodeAMD, can.ExtractOpcode(last.ID))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, last.Data[:6])
}

// S4 continued: the dispatcher's duplicate-alias step (the first step
// of Run) resets the owning node to GenerateSeed and unregisters the
// mapping. The step is called on its own because the enumeration step
// later in the same Run advances the node on to GenerateAlias.
func TestDispatcherResetsNodeOnDuplicateAlias(t *testing.T) {
	bus := &recordingBus{}
	d, registry := newTestDispatcher(t, bus)
	n := registry.Allocate(0x010203040506, nil, nil)
	n.SetAlias(0xBBB)
	n.SetRunState(login.Run)
	n.SetPermitted(true)

	entry := d.Aliases.Register(0xBBB, 0x010203040506)
	entry.IsPermitted = true
	entry.IsDuplicate = true

	did := d.handleDuplicateAliases()

	assert.True(t, did)
	assert.Equal(t, login.GenerateSeed, n.RunState())
	assert.Nil(t, d.Aliases.FindByAlias(0xBBB))
}

// A reject reply synthesized by the RX side (source alias is ours)
// sitting on the completed FIFO must be forwarded to the TX FIFO, not
// handed to the application message-dispatch path.
func TestDispatcherForwardsSelfAuthoredCompletedMessage(t *testing.T) {
	bus := &recordingBus{}
	d, _ := newTestDispatcher(t, bus)
	d.Aliases.Register(0xBBB, 0x010203040506)

	msg := d.Store.Allocate(buffer.Basic)
	msg.MTI = mti.DatagramRejectedReply
	msg.SourceAlias = 0xBBB
	msg.DestAlias = 0xAAA
	msg.SetPayload([]byte{0x0B, 0xBB, 0x20, 0x49})
	require.True(t, d.Completed.Push(d.Store, msg))

	d.Run()

	frame, ok := d.Fragmenter.TxFIFO.Pop()
	require.True(t, ok)
	assert.Equal(t, mti.DatagramRejectedReply, can.ExtractMTI(frame.ID))
	assert.Equal(t, uint16(0xBBB), can.ExtractSourceAlias(frame.ID))
}

// A message received from a peer (source alias is not ours) must not
// be forwarded back out to TX verbatim.
func TestDispatcherRoutesReceivedMessageAway(t *testing.T) {
	bus := &recordingBus{}
	d, _ := newTestDispatcher(t, bus)
	d.Aliases.Register(0xBBB, 0x010203040506)

	msg := d.Store.Allocate(buffer.Basic)
	msg.MTI = mti.OptionalInteractionRejected
	msg.SourceAlias = 0xAAA
	require.True(t, d.Completed.Push(d.Store, msg))

	d.Run()

	_, ok := d.Fragmenter.TxFIFO.Pop()
	assert.False(t, ok, "a peer-originated message must not be echoed to TX")
}

// S2: a received Verify-Node-ID-Global produces a synthesized
// Verified-Node-ID reply carrying the node's own id, not an echo of
// the request.
func TestDispatcherRepliesToVerifyNodeIDGlobal(t *testing.T) {
	bus := &recordingBus{}
	d, registry := newTestDispatcher(t, bus)
	n := registry.Allocate(0x010203040506, nil, nil)
	n.SetAlias(0xBBB)
	n.SetRunState(login.Run)
	n.SetPermitted(true)

	msg := d.Store.Allocate(buffer.Basic)
	msg.MTI = mti.VerifyNodeIDGlobal
	msg.SourceAlias = 0xAAA
	require.True(t, d.Completed.Push(d.Store, msg))

	d.Run()

	frame, ok := d.Fragmenter.TxFIFO.Pop()
	require.True(t, ok, "verify-node-id-global must produce a Verified-Node-ID reply")
	assert.Equal(t, mti.VerifiedNodeID, can.ExtractMTI(frame.ID))
	assert.Equal(t, uint16(0xBBB), can.ExtractSourceAlias(frame.ID))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, frame.Data[:6])
}
