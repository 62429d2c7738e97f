// Package terminal provides controlling terminals backed by pseudo-terminals.
//
// A Session owns one pty pair. Processes see the replica side through the
// protocol.Terminal methods (Read, Write, ID); clients drive the controller
// side with Input and drain what processes printed with Output. Output is
// collected by a background reader into a bounded buffer that drops the
// oldest bytes when full, so a slow client never blocks a process.
//
// The line discipline is left in cooked mode: input is delivered to
// processes a line at a time, echoed, and "\n" is printed as "\r\n".
package terminal
