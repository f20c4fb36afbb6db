package tx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimkueneman/lcc-go/pkg/buffer"
	"github.com/jimkueneman/lcc-go/pkg/can"
	"github.com/jimkueneman/lcc-go/pkg/mti"
)

func testDepths() buffer.Depths {
	return buffer.Depths{Basic: 4, Datagram: 4, Snip: 4, Stream: 4}
}

// S2 mirrored on the TX side: a small unaddressed global message fits
// in one frame.
func TestSendOpenLcbMessageSingleFrame(t *testing.T) {
	store := buffer.NewStore(testDepths())
	frag := NewFragmenter(buffer.NewTxFIFO(4))

	msg := store.Allocate(buffer.Basic)
	msg.MTI = mti.VerifiedNodeID
	msg.SetPayload([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})

	require.True(t, frag.SendOpenLcbMessage(msg, 0xBBB))

	frame, ok := frag.TxFIFO.Pop()
	require.True(t, ok)
	assert.True(t, can.IsOpenLcbMessage(frame.ID))
	assert.Equal(t, mti.VerifiedNodeID, can.ExtractMTI(frame.ID))
	assert.Equal(t, uint16(0xBBB), can.ExtractSourceAlias(frame.ID))
	assert.Equal(t, msg.Payload(), frame.Data[:frame.DLC])
}

// A datagram payload longer than 8 bytes reassembles, concatenated
// across frames, to the original payload — the fragment/reassemble
// round trip invariant spec.md §9 calls out.
func TestSendOpenLcbMessageDatagramRoundTrips(t *testing.T) {
	store := buffer.NewStore(testDepths())
	frag := NewFragmenter(buffer.NewTxFIFO(4))

	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	msg := store.Allocate(buffer.Datagram)
	msg.MTI = mti.Datagram
	msg.DestAlias = 0xBBB
	msg.SetPayload(payload)

	require.True(t, frag.SendOpenLcbMessage(msg, 0xAAA))

	var reassembled []byte
	var frameTypes []mti.FrameType
	for {
		frame, ok := frag.TxFIFO.Pop()
		if !ok {
			break
		}
		assert.Equal(t, uint16(0xBBB), can.ExtractDestAlias(frame.ID))
		assert.Equal(t, uint16(0xAAA), can.ExtractSourceAlias(frame.ID))
		frameTypes = append(frameTypes, can.ExtractFrameType(frame.ID))
		reassembled = append(reassembled, frame.Data[:frame.DLC]...)
	}

	assert.Equal(t, payload, reassembled)
	require.Len(t, frameTypes, 3)
	assert.Equal(t, mti.FrameTypeDatagramFirst, frameTypes[0])
	assert.Equal(t, mti.FrameTypeDatagramMiddle, frameTypes[1])
	assert.Equal(t, mti.FrameTypeDatagramFinal, frameTypes[2])
}

func TestSendOpenLcbMessageAddressedMultiFrame(t *testing.T) {
	store := buffer.NewStore(testDepths())
	frag := NewFragmenter(buffer.NewTxFIFO(4))

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	msg := store.Allocate(buffer.Snip)
	msg.MTI = mti.SNIPReply
	msg.DestAlias = 0xBBB
	msg.SetPayload(payload)

	require.True(t, frag.SendOpenLcbMessage(msg, 0xAAA))

	var reassembled []byte
	var framings []can.FramingBits
	for {
		frame, ok := frag.TxFIFO.Pop()
		if !ok {
			break
		}
		assert.Equal(t, uint16(0xBBB), can.ExtractDestAliasPayload(frame.Data))
		framings = append(framings, can.ExtractFramingBits(frame.Data[0]))
		reassembled = append(reassembled, frame.Data[2:frame.DLC]...)
	}

	assert.Equal(t, payload, reassembled)
	require.Len(t, framings, 2)
	assert.Equal(t, can.FramingFirst, framings[0])
	assert.Equal(t, can.FramingFinal, framings[1])
}

func TestSendOpenLcbMessageRefusesPartialQueueing(t *testing.T) {
	store := buffer.NewStore(testDepths())
	frag := NewFragmenter(buffer.NewTxFIFO(2))

	payload := make([]byte, 20)
	msg := store.Allocate(buffer.Datagram)
	msg.MTI = mti.Datagram
	msg.DestAlias = 0xBBB
	msg.SetPayload(payload)

	ok := frag.SendOpenLcbMessage(msg, 0xAAA)
	assert.False(t, ok, "a 3-frame sequence must not partially queue into a 2-slot FIFO")
	assert.Equal(t, 0, frag.TxFIFO.Len())
}

func TestSendCanMessagePassesThrough(t *testing.T) {
	frag := NewFragmenter(buffer.NewTxFIFO(2))
	frame := can.NewFrame(0x123, 0)
	assert.True(t, frag.SendCanMessage(frame))
	got, ok := frag.TxFIFO.Pop()
	require.True(t, ok)
	assert.Equal(t, frame, got)
}
