// Package handler defines the application-layer injection points
// spec.md §1 names as out of scope for the core but required as
// extension surface: event handlers, configuration-memory access, and
// SNIP string provision. It is the Go-native answer to spec.md §9's
// "function-pointer tables with optional NULL members map to sum
// types" — the teacher's analog is pkg/od/extensions.go, where an
// unset Read/Write function pointer on an OD entry is filled in with
// a default that synthesizes the matching SDO abort code; here an
// unset handler is filled in with a default that synthesizes the
// matching OpenLCB reject code.
package handler

import "github.com/jimkueneman/lcc-go/pkg/mti"

// EventHandler receives produced/consumed events and teach-event
// requests. Out of scope per spec.md §1 Non-goals ("full OpenLCB
// event-transport semantics... are handler modules above the
// dispatcher"); the core only needs somewhere to route them.
type EventHandler interface {
	EventReceived(sourceNodeID uint64, eventID uint64)
}

// MemHandler services configuration-memory reads/writes for one
// address space, invoked synchronously from protocol handlers
// (spec.md §6).
type MemHandler interface {
	Read(space uint8, address uint32, data []byte) (int, error)
	Write(space uint8, address uint32, data []byte) (int, error)
}

// SnipProvider supplies the four SNIP strings, allowing an
// application to serve them dynamically instead of from the static
// config.NodeParameters fields.
type SnipProvider interface {
	Manufacturer() string
	Model() string
	HardwareVersion() string
	SoftwareVersion() string
}

// notImplementedMemHandler is the default MemHandler: every access
// synthesizes ERROR_PERMANENT_NOT_IMPLEMENTED, the same default the
// teacher's OD extension mechanism falls back to for an entry with no
// Read/Write set.
type notImplementedMemHandler struct{}

func (notImplementedMemHandler) Read(uint8, uint32, []byte) (int, error) {
	return 0, mti.ErrorPermanentNotImplemented
}

func (notImplementedMemHandler) Write(uint8, uint32, []byte) (int, error) {
	return 0, mti.ErrorPermanentNotImplemented
}

// DefaultMemHandler returns the canned "not implemented" MemHandler
// used when an application registers no handler for an address space.
func DefaultMemHandler() MemHandler { return notImplementedMemHandler{} }
