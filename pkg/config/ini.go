package config

import (
	"gopkg.in/ini.v1"
)

// LoadINI loads NodeParameters from an .ini file, the same format and
// library the teacher's EDS loader (pkg/od/parser.go) uses for the
// CANopen object dictionary. Section layout:
//
//	[identity]
//	manufacturer = Acme Signals
//	model        = Block Detector
//	hardware_version = 2.1
//	software_version = 1.0
//	user_name = ...
//	user_description = ...
//
//	[buffers]
//	basic = 10
//	datagram = 4
//	snip = 2
//	stream = 1
//	node_table_depth = 1
//
// Unset keys fall back to Default()'s values. Only the keys above are
// read: the supported-protocol bitmap, CDI, address spaces, event
// capacities and memory base addresses are not read from the file and
// keep Default()'s values. AliasTableDepth is set to NodeTableDepth.
func LoadINI(path string) (*NodeParameters, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	params := Default()

	identity := f.Section("identity")
	params.Manufacturer = identity.Key("manufacturer").MustString(params.Manufacturer)
	params.Model = identity.Key("model").MustString(params.Model)
	params.HardwareVersion = identity.Key("hardware_version").MustString(params.HardwareVersion)
	params.SoftwareVersion = identity.Key("software_version").MustString(params.SoftwareVersion)
	params.UserName = identity.Key("user_name").MustString(params.UserName)
	params.UserDescription = identity.Key("user_description").MustString(params.UserDescription)

	buffers := f.Section("buffers")
	params.Buffers.Basic = buffers.Key("basic").MustInt(params.Buffers.Basic)
	params.Buffers.Datagram = buffers.Key("datagram").MustInt(params.Buffers.Datagram)
	params.Buffers.Snip = buffers.Key("snip").MustInt(params.Buffers.Snip)
	params.Buffers.Stream = buffers.Key("stream").MustInt(params.Buffers.Stream)
	params.NodeTableDepth = buffers.Key("node_table_depth").MustInt(params.NodeTableDepth)
	params.AliasTableDepth = params.NodeTableDepth

	return params, nil
}
