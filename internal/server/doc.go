// Package server wires the supervisor together: configuration, logging,
// metrics, the program filesystem, execution units, the process manager,
// terminals and the HTTP/WebSocket surface.
//
// Run drives the control loop and the listener under one errgroup and
// launches the boot manifest when one is configured. Cancelling the
// context passed to Run shuts everything down.
package server
