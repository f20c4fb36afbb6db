// Package dispatch implements the main cooperative loop (spec.md
// §4.8): duplicate-alias recovery, outgoing-frame transmission, login
// progression, and handing off assembled messages either back to the
// TX Fragmenter (for replies the core itself synthesized) or to the
// out-of-scope application message-dispatch handler. It plays the
// role the teacher's pkg/nmt bootstrap loop plays for gocanopen, tying
// together what the individual subsystem packages only half-finish
// alone (a single Run() call doing a fixed, ordered list of small,
// non-blocking steps, grounded on the teacher's single-goroutine node
// processing loop in node_local.go).
package dispatch

import (
	"github.com/sirupsen/logrus"

	"github.com/jimkueneman/lcc-go/pkg/alias"
	"github.com/jimkueneman/lcc-go/pkg/buffer"
	"github.com/jimkueneman/lcc-go/pkg/can"
	"github.com/jimkueneman/lcc-go/pkg/handler"
	"github.com/jimkueneman/lcc-go/pkg/login"
	"github.com/jimkueneman/lcc-go/pkg/mti"
	"github.com/jimkueneman/lcc-go/pkg/node"
	"github.com/jimkueneman/lcc-go/pkg/tx"
)

// maxCompletedDrainPerRun bounds how many completed-FIFO entries a
// single Run call drains, so a misbehaving peer flooding the FIFO
// cannot starve login progression or outgoing-frame transmission
// within one cooperative turn.
const maxCompletedDrainPerRun = 64

// Dispatcher is the main-loop driver (spec.md §4.8). It owns no state
// of its own beyond its dependencies; everything it touches is shared
// with pkg/rx under the spec's lock/unlock discipline (spec.md §5),
// which the caller is responsible for taking around Run.
type Dispatcher struct {
	Aliases   *alias.Map
	Registry  *node.Registry
	Completed *buffer.CompletedFIFO
	Store     *buffer.Store
	Bus       can.Bus
	Fragmenter *tx.Fragmenter

	EventHandler handler.EventHandler
	Logger       *logrus.Logger
}

func New(aliases *alias.Map, registry *node.Registry, completed *buffer.CompletedFIFO, store *buffer.Store, txFIFO *buffer.TxFIFO, bus can.Bus) *Dispatcher {
	return &Dispatcher{
		Aliases:    aliases,
		Registry:   registry,
		Completed:  completed,
		Store:      store,
		Bus:        bus,
		Fragmenter: tx.NewFragmenter(txFIFO),
		Logger:     logrus.StandardLogger(),
	}
}

// Run executes the five (plus one, see drainCompleted) dispatcher
// steps once, in order, and reports whether any of them did work
// (spec.md §4.8 "each step returns did work or nothing to do").
func (d *Dispatcher) Run() bool {
	did := d.handleDuplicateAliases()
	did = d.handleOutgoingCanFIFO() || did
	did = d.handlePendingLoginFrames() || did
	did = d.drainCompleted() || did
	did = d.enumerateNodes() || did
	return did
}

// handleDuplicateAliases implements spec.md §4.8 step 1: any alias
// slot flagged as a duplicate is unregistered and its owning node
// reset back into the login state machine.
func (d *Dispatcher) handleDuplicateAliases() bool {
	did := false
	var duplicates []uint64
	d.Aliases.Each(func(e *alias.Entry) {
		if e.IsDuplicate {
			duplicates = append(duplicates, e.NodeID)
		}
	})
	for _, nodeID := range duplicates {
		n := d.Registry.FindByNodeID(nodeID)
		if n == nil {
			continue
		}
		login.Reset(n, d.Aliases)
		n.PendingFrameValid = false
		did = true
	}
	return did
}

// handleOutgoingCanFIFO implements spec.md §4.8 step 2: pop one frame
// and attempt transmission, freeing the slot on success. A send
// failure re-queues the frame, since the ring FIFO cannot un-pop in
// place.
func (d *Dispatcher) handleOutgoingCanFIFO() bool {
	txFIFO := d.Fragmenter.TxFIFO
	frame, ok := txFIFO.Pop()
	if !ok {
		return false
	}
	if err := d.Bus.Send(frame); err != nil {
		d.Logger.WithError(err).Debug("dispatch: CAN transmit failed, retrying later")
		txFIFO.Push(frame)
	}
	return true
}

// handlePendingLoginFrames implements spec.md §4.8 step 3: any node
// whose login state machine produced a frame last cycle gets one
// transmission attempt.
func (d *Dispatcher) handlePendingLoginFrames() bool {
	did := false
	d.Registry.Each(func(n *node.Node) {
		if !n.PendingFrameValid {
			return
		}
		if err := d.Bus.Send(n.PendingFrame); err != nil {
			d.Logger.WithError(err).Debug("dispatch: login frame transmit failed, retrying later")
			return
		}
		n.PendingFrameValid = false
		did = true
	})
	return did
}

// drainCompleted forwards completed-FIFO entries the core itself
// synthesized (reject replies — their source alias is one of ours;
// AMR and AMD control frames bypass this FIFO and go straight to the
// TX FIFO) to the TX Fragmenter, and routes genuinely
// received messages to the application's message-dispatch handler,
// which spec.md §1 treats as out of scope for the core (spec.md §4.6,
// §7 establish that rejects land on the completed FIFO but §4.8 does
// not name the step that drains them back out; this is that step).
func (d *Dispatcher) drainCompleted() bool {
	did := false
	for i := 0; i < maxCompletedDrainPerRun; i++ {
		msg, ok := d.Completed.Pop()
		if !ok {
			break
		}
		did = true
		if d.Aliases.FindByAlias(msg.SourceAlias) != nil {
			if !d.Fragmenter.SendOpenLcbMessage(msg, msg.SourceAlias) {
				d.Logger.Warn("dispatch: TX FIFO has no room for a self-authored reply, dropping")
			}
		} else {
			d.dispatchReceived(msg)
		}
		// Pop hands us the FIFO's own reference without releasing it
		// (CompletedFIFO.Push took a second reference on top of the one
		// the allocating call site already held); both must be freed
		// here or the slot never returns to the pool.
		_ = d.Store.Free(msg)
		_ = d.Store.Free(msg)
	}
	return did
}

// dispatchReceived routes one genuinely-received message to the
// application layer. Verify-Node-ID-Global gets a core-level reply
// (spec.md §8 Scenario S2); event reports go to the registered
// EventHandler; everything else (datagrams, SNIP requests,
// memory-configuration traffic) is application-layer surface this core
// does not implement (spec.md §1 Non-goals).
func (d *Dispatcher) dispatchReceived(msg *buffer.Message) {
	if msg.MTI == mti.VerifyNodeIDGlobal {
		d.replyVerifiedNodeID(msg)
	}
	if d.EventHandler == nil {
		return
	}
	if msg.MTI == mti.ProducerConsumerEventReport && msg.PayloadCount >= 8 {
		eventID := readEventID(msg.Payload())
		d.EventHandler.EventReceived(0, eventID)
	}
}

// replyVerifiedNodeID implements spec.md §8 Scenario S2: every
// permitted, running node replies with MTI_VERIFIED_NODE_ID carrying
// its own node id. A request may optionally carry a specific node id
// to address in its payload, in which case only the matching node
// replies; an empty payload addresses every node.
func (d *Dispatcher) replyVerifiedNodeID(msg *buffer.Message) {
	targeted := msg.PayloadCount >= 6
	var requested uint64
	if targeted {
		requested = readNodeID(msg.Payload())
	}
	d.Registry.Each(func(n *node.Node) {
		if !n.Permitted || n.RunState() != login.Run {
			return
		}
		if targeted && n.NodeID() != requested {
			return
		}
		reply := d.Store.Allocate(buffer.Basic)
		if reply == nil {
			d.Logger.Warn("dispatch: no buffer available for Verified-Node-ID reply, dropping")
			return
		}
		reply.MTI = mti.VerifiedNodeID
		reply.SourceAlias = n.Alias()
		var payload [8]byte
		putNodeID(&payload, n.NodeID())
		reply.SetPayload(payload[:6])
		if !d.Fragmenter.SendOpenLcbMessage(reply, n.Alias()) {
			d.Logger.Warn("dispatch: TX FIFO has no room for Verified-Node-ID reply, dropping")
		}
		_ = d.Store.Free(reply)
	})
}

func putNodeID(data *[8]byte, nodeID uint64) {
	data[0] = byte(nodeID >> 40)
	data[1] = byte(nodeID >> 32)
	data[2] = byte(nodeID >> 24)
	data[3] = byte(nodeID >> 16)
	data[4] = byte(nodeID >> 8)
	data[5] = byte(nodeID)
}

func readNodeID(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

// enumerateNodes implements spec.md §4.8 steps 4-5: walk every node
// once per Run call, advancing login for any node not yet at RUN.
func (d *Dispatcher) enumerateNodes() bool {
	did := false
	for n := d.Registry.GetFirst(node.EnumeratorDispatch); n != nil; n = d.Registry.GetNext(node.EnumeratorDispatch) {
		if n.RunState() != login.Run {
			frame, hasFrame := login.Step(n, d.Aliases)
			if hasFrame {
				n.PendingFrame = frame
				n.PendingFrameValid = true
			}
			did = true
			continue
		}
		// Node is running; per-node message dispatch beyond event
		// routing is application-layer surface (spec.md §1 Non-goals).
	}
	return did
}

func readEventID(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
