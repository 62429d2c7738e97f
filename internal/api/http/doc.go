// Package http exposes the process manager over a gin REST API.
//
// Every operation the manager accepts from execution units is also
// reachable here through the host client. Process streams are exposed
// as chunked reads and writes; terminals back CREATE requests that
// need a controlling terminal.
package http
