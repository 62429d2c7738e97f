// Package ws attaches WebSocket clients to processes.
//
// GET /ws/processes/:pid upgrades the connection and streams the
// process's output as JSON frames:
//
//	{"type":"output","stream":"stdout","data":"..."}
//	{"type":"eof","stream":"stderr"}
//	{"type":"exit","pid":3,"code":0}
//
// Clients send {"type":"stdin","data":"..."}, {"type":"eof"},
// {"type":"kill"} and {"type":"ping"}. Attaching consumes the output
// streams, so at most one reader should attach per process.
package ws
