// Package buffer implements the fixed-pool, reference-counted message
// record store that is the universal record type for the rest of the
// stack (spec.md §3, §4.1). It generalizes the teacher's arena-style
// pooling (gocanopen keeps a single fifo.Fifo backing buffer per SDO
// client; here every subsystem shares four kind-specific pools).
// Records live in fixed per-kind arrays that never move, and callers
// receive pointers into those arrays.
package buffer

import (
	"errors"

	"github.com/jimkueneman/lcc-go/pkg/mti"
)

// PayloadKind selects one of the four fixed-size payload categories
// (spec.md §3).
type PayloadKind uint8

const (
	Basic PayloadKind = iota
	Datagram
	Snip
	Stream
	numKinds
)

// MaxPayloadLen returns the maximum payload size in bytes for kind.
func (k PayloadKind) MaxPayloadLen() int {
	switch k {
	case Basic:
		return 16
	case Datagram:
		return 72
	case Snip:
		return 256
	case Stream:
		return 512
	default:
		return 0
	}
}

func (k PayloadKind) String() string {
	switch k {
	case Basic:
		return "basic"
	case Datagram:
		return "datagram"
	case Snip:
		return "snip"
	case Stream:
		return "stream"
	default:
		return "unknown"
	}
}

var ErrAlreadyFree = errors.New("buffer: free called with reference_count already 0")

// Message is the universal message record (spec.md §3). It is always
// obtained from a Store via Allocate and released via Free; callers
// never construct one directly.
type Message struct {
	Allocated  bool
	InProcess  bool
	MTI        mti.MTI
	SourceAlias uint16
	DestAlias   uint16
	SourceID    uint64
	DestID      uint64

	kind          PayloadKind
	payload       []byte // len == capacity for the kind; PayloadCount gives valid bytes
	PayloadCount  int
	TimerTicks    int
	referenceCount int

	slot int // index into the owning pool's free list bookkeeping
}

func (m *Message) Kind() PayloadKind { return m.kind }

// Payload returns the valid bytes of the payload (0:PayloadCount).
func (m *Message) Payload() []byte {
	return m.payload[:m.PayloadCount]
}

// PayloadCap returns the full backing capacity for the message's kind.
func (m *Message) PayloadCap() []byte {
	return m.payload
}

// SetPayload copies src into the payload slot and sets PayloadCount,
// truncating to the kind's maximum if necessary.
func (m *Message) SetPayload(src []byte) {
	n := copy(m.payload, src)
	m.PayloadCount = n
}

// AppendPayload appends src at the current PayloadCount, truncating at
// the kind's capacity.
func (m *Message) AppendPayload(src []byte) int {
	n := copy(m.payload[m.PayloadCount:], src)
	m.PayloadCount += n
	return n
}

func (m *Message) ReferenceCount() int { return m.referenceCount }

func (m *Message) reset() {
	m.Allocated = false
	m.InProcess = false
	m.MTI = 0
	m.SourceAlias = 0
	m.DestAlias = 0
	m.SourceID = 0
	m.DestID = 0
	m.PayloadCount = 0
	m.TimerTicks = 0
	m.referenceCount = 0
}

// poolMetrics tracks per-kind allocation stats (spec.md §4.1).
type poolMetrics struct {
	currentlyAllocated int
	maxEverAllocated   int
}

type pool struct {
	kind     PayloadKind
	messages []Message
	free     []int // indices into messages, LIFO free stack
	metrics  poolMetrics
}

func newPool(kind PayloadKind, depth int) *pool {
	p := &pool{
		kind:     kind,
		messages: make([]Message, depth),
		free:     make([]int, depth),
	}
	for i := range p.messages {
		p.messages[i].kind = kind
		p.messages[i].payload = make([]byte, kind.MaxPayloadLen())
		p.messages[i].slot = i
		p.free[i] = depth - 1 - i
	}
	return p
}

// Store is the fixed, four-pool buffer store. Depths are configured
// once at construction (spec.md §6 "Configuration knobs").
type Store struct {
	pools [numKinds]*pool
}

// Depths gives the pool depth for each PayloadKind, one field per
// kind.
type Depths struct {
	Basic    int
	Datagram int
	Snip     int
	Stream   int
}

func NewStore(d Depths) *Store {
	s := &Store{}
	s.pools[Basic] = newPool(Basic, d.Basic)
	s.pools[Datagram] = newPool(Datagram, d.Datagram)
	s.pools[Snip] = newPool(Snip, d.Snip)
	s.pools[Stream] = newPool(Stream, d.Stream)
	return s
}

// Allocate returns a zeroed record linked to a free payload slot of
// kind, with ReferenceCount()==1, or nil if the pool is exhausted.
// Exhaustion is not an error condition in itself (spec.md §4.1); the
// caller reports ERROR_TEMPORARY_BUFFER_UNAVAILABLE upward.
func (s *Store) Allocate(kind PayloadKind) *Message {
	p := s.pools[kind]
	if len(p.free) == 0 {
		return nil
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	m := &p.messages[idx]
	m.reset()
	m.Allocated = true
	m.referenceCount = 1

	p.metrics.currentlyAllocated++
	if p.metrics.currentlyAllocated > p.metrics.maxEverAllocated {
		p.metrics.maxEverAllocated = p.metrics.currentlyAllocated
	}
	return m
}

// IncRef increments the reference count of an allocated message.
func (s *Store) IncRef(m *Message) {
	m.referenceCount++
}

// Free decrements the reference count; when it reaches 0 the record
// is cleared and its slot returned to the free pool. Calling Free on
// a record whose count is already 0 is a caller bug (spec.md §4.1).
func (s *Store) Free(m *Message) error {
	if m.referenceCount == 0 {
		return ErrAlreadyFree
	}
	m.referenceCount--
	if m.referenceCount > 0 {
		return nil
	}
	p := s.pools[m.kind]
	m.reset()
	p.free = append(p.free, m.slot)
	p.metrics.currentlyAllocated--
	return nil
}

// CurrentlyAllocated returns the live allocation count for kind.
func (s *Store) CurrentlyAllocated(kind PayloadKind) int {
	return s.pools[kind].metrics.currentlyAllocated
}

// MaxEverAllocated returns the high-water mark for kind.
func (s *Store) MaxEverAllocated(kind PayloadKind) int {
	return s.pools[kind].metrics.maxEverAllocated
}
