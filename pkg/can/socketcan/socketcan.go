// Package socketcan wraps github.com/brutella/can to provide the
// Linux SocketCAN backend for the Bus interface, the same wrapping
// the teacher does in cmd/canopen/driver.go.
package socketcan

import (
	brutella "github.com/brutella/can"
	"golang.org/x/sys/unix"

	"github.com/jimkueneman/lcc-go/pkg/can"
)

// Bus adapts a brutella/can bus to the can.Bus contract.
type Bus struct {
	bus      *brutella.Bus
	listener can.FrameListener
}

// New opens the named SocketCAN interface, e.g. "can0" or "vcan0".
func New(interfaceName string) (*Bus, error) {
	bus, err := brutella.NewBusForInterfaceWithName(interfaceName)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

func (b *Bus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

func (b *Bus) Send(frame can.Frame) error {
	out := brutella.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	}
	return b.bus.Publish(out)
}

// Subscribe registers listener to receive every frame brutella/can
// delivers, converting from its Frame type to ours.
func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.listener = listener
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's Handler interface. The identifier
// is masked to its 29 extended-frame bits before use, the same
// defensive mask the teacher applies with unix.CAN_SFF_MASK in
// bus_manager.go for 11-bit standard frames.
func (b *Bus) Handle(frame brutella.Frame) {
	if b.listener == nil {
		return
	}
	b.listener.Handle(can.Frame{
		ID:   frame.ID & unix.CAN_EFF_MASK,
		DLC:  frame.Length,
		Data: frame.Data,
	})
}
