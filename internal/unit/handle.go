package unit

import "github.com/GriffinCanCode/AgentOS/procman/internal/protocol"

// Handle is the manager's grip on a running unit.
type Handle interface {
	ID() string
	// Send delivers a message to the unit.
	Send(msg protocol.Message) error
	// OnMessage installs the handler for messages the unit emits and
	// returns the handler it replaced.
	OnMessage(fn func(protocol.Message)) func(protocol.Message)
	// Terminate stops the unit. It does not wait for it to finish.
	Terminate()
}

// Bootstrap is what a unit is launched with.
type Bootstrap struct {
	// Announce is called once the unit is ready to receive messages.
	Announce func(Handle)
}

// Spawner launches units.
type Spawner interface {
	Spawn(b Bootstrap) (Handle, error)
}
