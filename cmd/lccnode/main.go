// Command lccnode runs a single virtual OpenLCB node against a CAN
// interface. It mirrors the teacher's cmd/canopen entry point: parse
// flags, build a driver, build the stack, then cycle an application
// state machine around the core's Run/tick calls (spec.md §4.8,
// §4.10), with a background goroutine driving the 100ms timer the
// same way the teacher's background goroutine drives SYNC/PDO
// processing.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jimkueneman/lcc-go/pkg/alias"
	"github.com/jimkueneman/lcc-go/pkg/buffer"
	"github.com/jimkueneman/lcc-go/pkg/can"
	"github.com/jimkueneman/lcc-go/pkg/can/socketcan"
	"github.com/jimkueneman/lcc-go/pkg/can/virtual"
	"github.com/jimkueneman/lcc-go/pkg/config"
	"github.com/jimkueneman/lcc-go/pkg/dispatch"
	"github.com/jimkueneman/lcc-go/pkg/node"
	"github.com/jimkueneman/lcc-go/pkg/rx"
	"github.com/jimkueneman/lcc-go/pkg/timer"
)

const (
	appInit = iota
	appRunning
)

const defaultNodeID = "010203040506"
const defaultInterface = "vcan0"

func main() {
	log.SetLevel(log.InfoLevel)

	canInterface := flag.String("i", defaultInterface, "CAN interface name, or 'virtual:<channel>' for the in-process bus")
	nodeIDHex := flag.String("n", defaultNodeID, "48-bit node id, hex")
	iniPath := flag.String("c", "", "node parameters .ini path (uses config.Default() if empty)")
	flag.Parse()

	nodeID, err := strconv.ParseUint(*nodeIDHex, 16, 64)
	if err != nil {
		fmt.Printf("invalid node id %q: %v\n", *nodeIDHex, err)
		os.Exit(1)
	}

	bus, err := openBus(*canInterface)
	if err != nil {
		fmt.Printf("could not open CAN interface %v: %v\n", *canInterface, err)
		os.Exit(1)
	}

	params := config.Default()
	if *iniPath != "" {
		params, err = config.LoadINI(*iniPath)
		if err != nil {
			fmt.Printf("error loading node parameters from %v: %v\n", *iniPath, err)
			os.Exit(1)
		}
	}

	store := buffer.NewStore(buffer.Depths(params.Buffers))
	aliases := alias.NewMap(params.AliasTableDepth)
	inProgress := buffer.NewInProgressIndex(params.Buffers.Basic + params.Buffers.Datagram)
	completed := buffer.NewCompletedFIFO(params.Buffers.Basic + params.Buffers.Datagram + params.Buffers.Snip)
	txFIFO := buffer.NewTxFIFO(params.Buffers.Basic + params.Buffers.Datagram)
	registry := node.NewRegistry(params.NodeTableDepth)

	assembler := rx.NewAssembler(store, aliases, inProgress, completed, txFIFO, registry)
	dispatcher := dispatch.New(aliases, registry, completed, store, txFIFO, bus)

	// The alias map, buffer store, in-progress index, and both FIFOs
	// are shared between the RX path (driven by the driver's own
	// goroutine on frame arrival), the 100ms timer goroutine below, and
	// the foreground dispatcher loop. This mutex is the hosted-system
	// stand-in for spec.md §5's lock_shared_resources()/
	// unlock_shared_resources() platform hook: every entry point into
	// that shared state takes it for the duration of its call.
	var mu sync.Mutex

	if err := bus.Subscribe(&lockedListener{mu: &mu, inner: assembler}); err != nil {
		fmt.Printf("could not subscribe to bus: %v\n", err)
		os.Exit(1)
	}
	if err := bus.Connect(); err != nil {
		fmt.Printf("could not connect bus: %v\n", err)
		os.Exit(1)
	}

	appState := appInit
	tickPeriod := 100 * time.Millisecond
	runPeriod := time.Millisecond

	for {
		switch appState {
		case appInit:
			n := registry.Allocate(nodeID, params, store)
			if n == nil {
				fmt.Println("node table exhausted, cannot allocate node")
				os.Exit(1)
			}
			go func() {
				ticker := time.NewTicker(tickPeriod)
				defer ticker.Stop()
				for range ticker.C {
					mu.Lock()
					timer.Tick(registry)
					mu.Unlock()
				}
			}()
			appState = appRunning

		case appRunning:
			mu.Lock()
			dispatcher.Run()
			mu.Unlock()
			time.Sleep(runPeriod)
		}
	}
}

// lockedListener adapts a can.FrameListener to take the shared-resource
// lock around every Handle call, since the driver invokes it from its
// own goroutine, outside the foreground loop's locking.
type lockedListener struct {
	mu    *sync.Mutex
	inner can.FrameListener
}

func (l *lockedListener) Handle(frame can.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.Handle(frame)
}

// openBus resolves the -i flag to a driver: a real SocketCAN interface
// name, or "virtual:<channel>" for the in-process test bus.
func openBus(name string) (can.Bus, error) {
	if len(name) > len("virtual:") && name[:len("virtual:")] == "virtual:" {
		return virtual.NewBus(name[len("virtual:"):])
	}
	return socketcan.New(name)
}
