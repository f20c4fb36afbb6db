// Package timer implements the 100ms tick that drives login waiting
// and datagram timeouts (spec.md §4.10). The teacher's analog is the
// periodic countdown in pkg/heartbeat's consumer (guard-time
// countdown) and pkg/sync's cycle timer: a single exported Tick
// method called on a fixed external cadence, never an internal
// goroutine or ticker of its own, so the caller controls timing.
package timer

import "github.com/jimkueneman/lcc-go/pkg/node"

// Tick must be called every 100ms, per spec.md §6 "100 ms timer:
// must call the core's tick_100ms() every 100 ms ± jitter." It
// increments every node's login-wait tick counter, its general
// TimerTicks counter, and the TimerTicks of the node's held datagram,
// if any (used by the datagram layer's retry countdown, spec.md
// §4.10, §5), matching the ESP32 reference path the spec calls out in
// §9 as counting per-message timers. Messages not held by a node are
// not counted.
func Tick(registry *node.Registry) {
	registry.Each(func(n *node.Node) {
		n.IncLoginWaitTicks()
		n.TimerTicks++
		if n.HeldDatagramMsg != nil {
			n.HeldDatagramMsg.TimerTicks++
		}
	})
}
