// Package tx implements the transmit-side fragmenter: it turns one
// assembled OpenLCB message into the ordered sequence of CAN frames
// that carries it (spec.md §4.7). Where pkg/rx reassembles incoming
// multi-frame sequences, this package is its mirror image, grounded on
// the same frame-layout rules; the teacher's nearest analog is
// pkg/sdo's segmented-transfer writer (sdo_client.go), which also
// walks a byte buffer emitting fixed-size frames tagged with a
// toggle/sequence bit until the cursor reaches the end.
package tx

import (
	"github.com/sirupsen/logrus"

	"github.com/jimkueneman/lcc-go/pkg/buffer"
	"github.com/jimkueneman/lcc-go/pkg/can"
	"github.com/jimkueneman/lcc-go/pkg/mti"
)

// addressedChunk is the payload width of one addressed-message frame:
// 8 data bytes minus the 2-byte framing/dest-alias header.
const addressedChunk = 6

// unaddressedChunk is the payload width of one unaddressed
// (PCER-with-payload) frame: the full 8 bytes, no header.
const unaddressedChunk = 8

// datagramChunk is the payload width of one datagram/stream-data
// frame: the full 8 bytes, dest alias carried in the identifier.
const datagramChunk = 8

// Fragmenter turns completed OpenLCB messages into CAN frames and
// queues them for the driver.
type Fragmenter struct {
	TxFIFO *buffer.TxFIFO
	Logger *logrus.Logger
}

func NewFragmenter(txFIFO *buffer.TxFIFO) *Fragmenter {
	return &Fragmenter{TxFIFO: txFIFO, Logger: logrus.StandardLogger()}
}

// SendCanMessage is a thin pass-through for login frames and any other
// already-built CAN frame (spec.md §4.7 "send_can_message").
func (f *Fragmenter) SendCanMessage(frame can.Frame) bool {
	return f.TxFIFO.Push(frame)
}

// SendOpenLcbMessage fragments msg into one or more CAN frames and
// queues all of them, or none, so that a multi-frame sequence is never
// interleaved with another message's frames (spec.md §4.7 step 4,
// §5 "must not be interleaved"). It returns false — "try later" — if
// the FIFO does not currently have room for the whole sequence.
func (f *Fragmenter) SendOpenLcbMessage(msg *buffer.Message, sourceAlias uint16) bool {
	frames := f.buildFrames(msg, sourceAlias)
	if len(frames) == 0 {
		return true
	}
	if f.TxFIFO.Free() < len(frames) {
		f.Logger.Debug("tx: transmit FIFO lacks room for the full sequence, deferring")
		return false
	}
	for _, frame := range frames {
		f.TxFIFO.Push(frame)
	}
	return true
}

func (f *Fragmenter) buildFrames(msg *buffer.Message, sourceAlias uint16) []can.Frame {
	switch {
	case msg.MTI == mti.Datagram:
		return fragmentDatagram(msg, sourceAlias)
	case isStreamControl(msg.MTI):
		return fragmentStream(msg, sourceAlias)
	case msg.MTI.IsAddressed():
		return fragmentAddressed(msg, sourceAlias)
	default:
		return fragmentUnaddressed(msg, sourceAlias)
	}
}

func isStreamControl(m mti.MTI) bool {
	switch m {
	case mti.StreamInitRequest, mti.StreamInitReply, mti.StreamProceed, mti.StreamComplete:
		return true
	default:
		return false
	}
}

// fragmentDatagram splits a datagram payload (spec.md §3, up to 72
// bytes) into 8-byte-or-less chunks, tagging the CAN frame-type field
// only/first/middle/final and carrying the destination alias in the
// identifier (spec.md §4.7 "Datagram frames use a different CAN
// frame-type field").
func fragmentDatagram(msg *buffer.Message, sourceAlias uint16) []can.Frame {
	payload := msg.Payload()
	if len(payload) <= datagramChunk {
		id := can.ConvertDatagramFrameToCanID(mti.FrameTypeDatagramOnly, sourceAlias, msg.DestAlias)
		return []can.Frame{frameWithPayload(id, payload)}
	}

	var frames []can.Frame
	for i := 0; i < len(payload); i += datagramChunk {
		end := i + datagramChunk
		if end > len(payload) {
			end = len(payload)
		}
		var frameType mti.FrameType
		switch {
		case i == 0:
			frameType = mti.FrameTypeDatagramFirst
		case end == len(payload):
			frameType = mti.FrameTypeDatagramFinal
		default:
			frameType = mti.FrameTypeDatagramMiddle
		}
		id := can.ConvertDatagramFrameToCanID(frameType, sourceAlias, msg.DestAlias)
		frames = append(frames, frameWithPayload(id, payload[i:end]))
	}
	return frames
}

// fragmentStream builds the single small control frame a stream
// init/reply/proceed/complete message needs: frame-type Stream, with
// the destination alias in payload bytes 0-1 (spec.md §4.7 "Stream
// frames carry destination alias in payload bytes 0-1").
func fragmentStream(msg *buffer.Message, sourceAlias uint16) []can.Frame {
	id := can.ConvertDatagramFrameToCanID(mti.FrameTypeStream, sourceAlias, 0)
	payload := msg.Payload()
	data := make([]byte, 0, 2+len(payload))
	data = append(data, byte(msg.DestAlias>>8)&0x0F, byte(msg.DestAlias))
	data = append(data, payload...)
	if len(data) > 8 {
		data = data[:8]
	}
	return []can.Frame{frameWithPayload(id, data)}
}

// fragmentAddressed splits an addressed-message payload into 6-byte
// chunks, each frame carrying the framing bits and destination-alias
// high nibble in byte 0 and the low byte in byte 1 (spec.md §4.7
// "Addressed standard frames carry destination alias in bytes 0-1
// with framing bits in the high nibble of byte 0").
func fragmentAddressed(msg *buffer.Message, sourceAlias uint16) []can.Frame {
	id := can.ConvertOpenLcbMtiToCanID(msg.MTI, mti.FrameTypeStandard, sourceAlias)
	payload := msg.Payload()
	if len(payload) <= addressedChunk {
		return []can.Frame{addressedFrame(id, can.FramingOnly, msg.DestAlias, payload)}
	}

	var frames []can.Frame
	for i := 0; i < len(payload); i += addressedChunk {
		end := i + addressedChunk
		if end > len(payload) {
			end = len(payload)
		}
		var framing can.FramingBits
		switch {
		case i == 0:
			framing = can.FramingFirst
		case end == len(payload):
			framing = can.FramingFinal
		default:
			framing = can.FramingMiddle
		}
		frames = append(frames, addressedFrame(id, framing, msg.DestAlias, payload[i:end]))
	}
	return frames
}

func addressedFrame(id uint32, framing can.FramingBits, destAlias uint16, chunk []byte) can.Frame {
	data := make([]byte, 0, 2+len(chunk))
	data = append(data, can.BuildAddressedByte0(framing, destAlias), byte(destAlias))
	data = append(data, chunk...)
	return frameWithPayload(id, data)
}

// fragmentUnaddressed splits an unaddressed multi-frame payload (in
// this protocol, only the PCER-with-payload family) into full 8-byte
// chunks with no header, tagging the first/middle/last MTI variants
// (spec.md §4.3, §4.7).
func fragmentUnaddressed(msg *buffer.Message, sourceAlias uint16) []can.Frame {
	payload := msg.Payload()
	if len(payload) <= unaddressedChunk {
		id := can.ConvertOpenLcbMtiToCanID(msg.MTI, mti.FrameTypeStandard, sourceAlias)
		return []can.Frame{frameWithPayload(id, payload)}
	}

	var frames []can.Frame
	for i := 0; i < len(payload); i += unaddressedChunk {
		end := i + unaddressedChunk
		if end > len(payload) {
			end = len(payload)
		}
		var m mti.MTI
		switch {
		case i == 0:
			m = mti.PCEREventsFirst
		case end == len(payload):
			m = mti.PCEREventsLast
		default:
			m = mti.PCEREventsMiddle
		}
		id := can.ConvertOpenLcbMtiToCanID(m, mti.FrameTypeStandard, sourceAlias)
		frames = append(frames, frameWithPayload(id, payload[i:end]))
	}
	return frames
}

func frameWithPayload(id uint32, payload []byte) can.Frame {
	frame := can.NewFrame(id, uint8(len(payload)))
	copy(frame.Data[:], payload)
	return frame
}
