package buffer

import (
	"github.com/jimkueneman/lcc-go/pkg/can"
	"github.com/jimkueneman/lcc-go/pkg/ring"
)

// CompletedFIFO is the strict-FIFO queue of assembled OpenLCB messages
// awaiting dispatch (spec.md §3, §4.4). Each held message contributes
// one reference count; Pop transfers that count to the caller, who
// must eventually Free it.
type CompletedFIFO struct {
	ring *ring.Ring[*Message]
}

func NewCompletedFIFO(depth int) *CompletedFIFO {
	return &CompletedFIFO{ring: ring.New[*Message](depth)}
}

// Push enqueues msg, taking a reference on it. Returns false if the
// ring is full, in which case the caller still owns the reference it
// passed in and must decide whether to free it.
func (f *CompletedFIFO) Push(store *Store, msg *Message) bool {
	store.IncRef(msg)
	if f.ring.Push(msg) {
		return true
	}
	_ = store.Free(msg)
	return false
}

func (f *CompletedFIFO) Pop() (*Message, bool) {
	return f.ring.Pop()
}

func (f *CompletedFIFO) Len() int { return f.ring.Len() }

// TxFIFO is the ring of CAN frames awaiting hardware transmission
// (spec.md §3, §4.4).
type TxFIFO struct {
	ring *ring.Ring[can.Frame]
}

func NewTxFIFO(depth int) *TxFIFO {
	return &TxFIFO{ring: ring.New[can.Frame](depth)}
}

func (f *TxFIFO) Push(frame can.Frame) bool { return f.ring.Push(frame) }
func (f *TxFIFO) Pop() (can.Frame, bool)    { return f.ring.Pop() }
func (f *TxFIFO) Len() int                  { return f.ring.Len() }

// Free returns the number of additional frames the FIFO can currently
// hold, used by the TX fragmenter to reserve room for an entire
// multi-frame sequence before queuing any of it (spec.md §4.7, §5).
func (f *TxFIFO) Free() int { return f.ring.Cap() - f.ring.Len() }
