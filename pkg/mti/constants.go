// Package mti holds the wire-level constants of the OpenLCB/LCC CAN
// adaptation: Message Type Indicators, CAN control-frame opcodes, frame
// types, and the reject error codes a node may emit.
package mti

// MTI is a 16-bit Message Type Indicator. Bit 3 set means "destination
// address present" (spec.md §3).
type MTI uint16

const (
	DestinationPresentBit MTI = 0x0008
)

// A subset of the well-known OpenLCB MTI values, sufficient for the
// core dispatch paths named in spec.md §4.6/§4.7/§8.
const (
	InitializationComplete       MTI = 0x0100
	InitializationCompleteSimple MTI = 0x0101
	VerifyNodeIDAddressed        MTI = 0x0488
	VerifyNodeIDGlobal           MTI = 0x0490
	VerifiedNodeID               MTI = 0x0170
	OptionalInteractionRejected  MTI = 0x0068
	ProtocolSupportInquiry       MTI = 0x0828
	ProtocolSupportReply         MTI = 0x0668
	SNIPRequest                  MTI = 0x0DE8
	SNIPReply                    MTI = 0x0A08

	ProducerConsumerEventReport MTI = 0x05B4
	PCEREventsFirst             MTI = 0x0F12
	PCEREventsMiddle            MTI = 0x0F13
	PCEREventsLast              MTI = 0x0F14

	Datagram             MTI = 0x1C48
	DatagramRejectedReply MTI = 0x0A48
	DatagramReceivedOK   MTI = 0x0A28

	StreamInitRequest MTI = 0x0CC8
	StreamInitReply   MTI = 0x0868
	StreamProceed     MTI = 0x0888
	StreamComplete    MTI = 0x08A8
)

// IsAddressed reports whether the MTI's destination-address-present
// bit is set.
func (m MTI) IsAddressed() bool {
	return m&DestinationPresentBit != 0
}

// IsPCERWithPayload reports whether mti is one of the three
// first/middle/last PCER-with-payload variants that fold to the plain
// PCER MTI on dispatch (spec.md §4.3).
func IsPCERWithPayload(m MTI) bool {
	return m == PCEREventsFirst || m == PCEREventsMiddle || m == PCEREventsLast
}

// Normalize folds the PCER first/middle/last variants down to the
// plain event-report MTI, matching spec.md §4.3's extract_mti.
func Normalize(m MTI) MTI {
	if IsPCERWithPayload(m) {
		return ProducerConsumerEventReport
	}
	return m
}

// CAN frame types, the 3-bit field at identifier bits 26-24
// (spec.md §3, §6).
type FrameType uint8

const (
	FrameTypeControl        FrameType = 0x0 // bit27=0 control-frame opcode family
	FrameTypeStandard       FrameType = 0x1 // bit27=1 single/global/addressed MTI frame
	FrameTypeDatagramOnly   FrameType = 0x2
	FrameTypeDatagramFirst  FrameType = 0x3
	FrameTypeDatagramMiddle FrameType = 0x4
	FrameTypeDatagramFinal  FrameType = 0x5
	FrameTypeStream         FrameType = 0x6
	// 0x4..0x7 double as the CID4..CID7 control-frame family when
	// bit27=0; see ControlOpcode below.
)

// Control-frame opcodes, carried in identifier bits 23-12 when
// bit27=0 and frame type is FrameTypeControl (0). CID1..CID7 instead
// use the frame-type field itself (values 4-7 for CID4-CID7; CID1-3
// are not emitted by the login state machine and are accepted but
// ignored on receive, per spec.md §4.6 "unknown opcodes are ignored").
type ControlOpcode uint16

const (
	OpcodeRID             ControlOpcode = 0x0700
	OpcodeAMD             ControlOpcode = 0x0701
	OpcodeAME             ControlOpcode = 0x0702
	OpcodeAMR             ControlOpcode = 0x0703
	OpcodeErrorInfoReport0 ControlOpcode = 0x0710
	OpcodeErrorInfoReport1 ControlOpcode = 0x0711
	OpcodeErrorInfoReport2 ControlOpcode = 0x0712
	OpcodeErrorInfoReport3 ControlOpcode = 0x0713
)

// CID frame types, the value that occupies the frame-type field
// (bits 26-24) of a Check-ID control frame. CID7 carries node-ID bits
// 47..36, down to CID4 carrying bits 11..0.
const (
	FrameTypeCID7 FrameType = 0x7
	FrameTypeCID6 FrameType = 0x6
	FrameTypeCID5 FrameType = 0x5
	FrameTypeCID4 FrameType = 0x4
)

// RejectCode is a 16-bit error code written into a reject reply's
// payload (spec.md §7, §8). The top nibble distinguishes temporary
// (0x2xxx, peer may retry) from permanent (0x1xxx, peer must not
// retry) errors.
type RejectCode uint16

const (
	ErrorPermanentNotImplemented                      RejectCode = 0x1000
	ErrorPermanentNotImplementedSubcommandUnknown      RejectCode = 0x1043
	ErrorPermanentInvalidArguments                     RejectCode = 0x1082
	ErrorPermanentConfigMemAddressSpaceUnknown         RejectCode = 0x10C0
	ErrorPermanentConfigMemOutOfBoundsInvalidAddress   RejectCode = 0x1100

	ErrorTemporaryBufferUnavailable              RejectCode = 0x2020
	ErrorTemporaryOutOfOrderStartBeforeLastEnd   RejectCode = 0x2048
	ErrorTemporaryOutOfOrderMiddleEndWithNoStart RejectCode = 0x2049
	ErrorTemporaryTransferError                  RejectCode = 0x2080
)

// IsTemporary reports whether code's top nibble marks it as a
// temporary (retryable) error, vs. a permanent one.
func (c RejectCode) IsTemporary() bool {
	return c&0xF000 == 0x2000
}

func (c RejectCode) Error() string {
	if c.IsTemporary() {
		return "openlcb: temporary error 0x" + hex(uint16(c))
	}
	return "openlcb: permanent error 0x" + hex(uint16(c))
}

func hex(v uint16) string {
	const digits = "0123456789abcdef"
	buf := [4]byte{}
	for i := 3; i >= 0; i-- {
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf[:])
}

// Well-known event ID for duplicate-Node-ID reports (spec.md §7). No
// package in this module sends it.
const EventIDDuplicateNodeDetected uint64 = 0x0101000000000201

// Protocol-support bit positions within the 6-byte Protocol Support
// Reply payload (spec.md §6), MSB first, as bits of a 48-bit value:
// the first protocol listed is bit 47, the most significant bit of
// byte 0.
const (
	ProtocolDatagram                 uint64 = 1 << 47
	ProtocolFirmwareUpgrade          uint64 = 1 << 46
	ProtocolFirmwareUpgradeActive    uint64 = 1 << 45
	ProtocolMemoryConfiguration      uint64 = 1 << 44
	ProtocolEventExchange            uint64 = 1 << 43
	ProtocolSimpleProtocol           uint64 = 1 << 42
	ProtocolAbbreviatedDefaultCDI    uint64 = 1 << 41
	ProtocolSimpleNodeInformation    uint64 = 1 << 40
	ProtocolConfigurationDescription uint64 = 1 << 39
)
