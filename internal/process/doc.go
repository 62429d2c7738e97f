/*
Package process owns the process table and the manager that services every
request processes make of each other.

# Model

A process is created in four steps:

 1. The creator sends CREATE_PROCESS. The manager loads the program,
    reserves a table slot (pipes and signal included) and queues a pending
    registration.
 2. An execution unit is spawned. When ready it announces itself and claims
    the oldest pending registration.
 3. The manager attaches its request handler to the unit and replies to the
    creator with the new PID.
 4. If the creator asked for autostart, or later sends START_PROCESS, the
    unit receives its start payload and runs.

# Concurrency

The Manager runs a single control loop (Run). Requests from units and from
the host arrive through an unbounded mailbox and are serviced one at a time.
Handlers never block: a request that cannot be answered yet (WAIT_ON_PID,
CREATE_PROCESS) is parked, and its reply is written later. The caller
blocks on its own Signal, never the manager.

The waiting sets and the pending queue belong to the control loop. The table
carries its own lock because HTTP handlers read stream handles from it.
*/
package process
