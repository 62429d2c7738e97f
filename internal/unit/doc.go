// Package unit runs processes. An execution unit is a goroutine that
// announces itself to the manager, waits for its start payload, runs the
// program through a Runner and reports its exit code.
//
// The manager only sees the Handle contract (ID, Send, OnMessage,
// Terminate), so any other kind of unit can be plugged in through a Spawner.
package unit
