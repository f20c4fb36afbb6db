// Package config defines NodeParameters, the static descriptor a
// virtual node is constructed from (spec.md §6 "Node registration"),
// and loads it either from Go literals or from an .ini file. This is
// the Go-native shape of spec.md §4.11: the teacher's analog is
// pkg/od/parser.go loading an EDS (also .ini-formatted) object
// dictionary via gopkg.in/ini.v1, with od.Default() as the
// code-constructed fallback this package mirrors with Default().
package config

import "github.com/jimkueneman/lcc-go/pkg/mti"

// ConfigMemorySpace describes one addressable configuration-memory
// region (spec.md §6 "Configuration knobs").
type ConfigMemorySpace struct {
	Space    uint8
	Base     uint32
	Size     uint32
	ReadOnly bool
}

// BufferDepths gives the pool depth for each payload kind (spec.md
// §6), mirrored from pkg/buffer.Depths to avoid pkg/config depending
// on pkg/buffer.
type BufferDepths struct {
	Basic    int
	Datagram int
	Snip     int
	Stream   int
}

// NodeParameters is the static descriptor for one virtual node
// (spec.md §3 "configuration-parameters reference", §6).
type NodeParameters struct {
	// SNIP / ACDI fixed strings.
	Manufacturer    string
	Model           string
	HardwareVersion string
	SoftwareVersion string
	UserName        string
	UserDescription string

	SupportedProtocols uint64 // bitmap, see pkg/mti Protocol* constants

	CDI []byte

	AddressSpaces []ConfigMemorySpace

	ProducerEventCapacity int
	ConsumerEventCapacity int

	Buffers        BufferDepths
	NodeTableDepth int
	// AliasTableDepth must equal NodeTableDepth (spec.md §6).
	AliasTableDepth int

	UserNameBaseAddress        uint32
	UserDescriptionBaseAddress uint32
}

// Default returns a reasonable literal configuration suitable for
// tests and simple embedding, the role od.Default() plays for the
// teacher.
func Default() *NodeParameters {
	return &NodeParameters{
		Manufacturer:    "lcc-go",
		Model:           "Generic Node",
		HardwareVersion: "1.0",
		SoftwareVersion: "1.0",
		UserName:        "",
		UserDescription: "",
		SupportedProtocols: mti.ProtocolSimpleProtocol |
			mti.ProtocolSimpleNodeInformation |
			mti.ProtocolEventExchange |
			mti.ProtocolMemoryConfiguration,
		ProducerEventCapacity: 8,
		ConsumerEventCapacity: 8,
		Buffers: BufferDepths{
			Basic:    10,
			Datagram: 4,
			Snip:     2,
			Stream:   1,
		},
		NodeTableDepth:             1,
		AliasTableDepth:            1,
		UserNameBaseAddress:        0xA0,
		UserDescriptionBaseAddress: 0xC0,
	}
}
