// Package virtual implements an in-process CAN bus used by tests and
// examples, the same role the teacher's pkg/can/virtual TCP broker
// plays for gocanopen. Rather than a TCP broker (overkill for an
// in-process test double), a shared "medium" keyed by channel name
// fans a sent frame out to every other bus instance attached to it,
// matching real multi-drop CAN semantics; the sender sees its own
// frames only after SetReceiveOwn(true).
package virtual

import (
	"sync"

	"github.com/jimkueneman/lcc-go/pkg/can"
)

type medium struct {
	mu        sync.Mutex
	listeners map[*Bus]can.FrameListener
}

func (m *medium) send(from *Bus, frame can.Frame) {
	m.mu.Lock()
	recipients := make([]can.FrameListener, 0, len(m.listeners))
	for bus, listener := range m.listeners {
		if bus == from && !from.receiveOwn {
			continue
		}
		if listener != nil {
			recipients = append(recipients, listener)
		}
	}
	m.mu.Unlock()
	for _, listener := range recipients {
		listener.Handle(frame)
	}
}

var (
	mediaMu sync.Mutex
	media   = map[string]*medium{}
)

func getMedium(channel string) *medium {
	mediaMu.Lock()
	defer mediaMu.Unlock()
	m, ok := media[channel]
	if !ok {
		m = &medium{listeners: map[*Bus]can.FrameListener{}}
		media[channel] = m
	}
	return m
}

// Bus is a virtual CAN bus backend: every Bus sharing the same channel
// name observes every other Bus's traffic.
type Bus struct {
	channel    string
	medium     *medium
	receiveOwn bool
	connected  bool
}

func NewBus(channel string) (*Bus, error) {
	return &Bus{channel: channel, medium: getMedium(channel)}, nil
}

// SetReceiveOwn controls whether a bus observes the frames it sends
// itself; tests that run a single node on an otherwise-empty virtual
// channel need this to see their own login traffic looped back.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}

func (b *Bus) Connect(...any) error {
	b.connected = true
	return nil
}

func (b *Bus) Disconnect() error {
	b.medium.mu.Lock()
	delete(b.medium.listeners, b)
	b.medium.mu.Unlock()
	b.connected = false
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	b.medium.send(b, frame)
	return nil
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.medium.mu.Lock()
	b.medium.listeners[b] = listener
	b.medium.mu.Unlock()
	return nil
}
