// Package main is procctl, the command-line client for procd.
//
// Usage:
//
//	procctl ps
//	procctl run /bin/echo hello
//	procctl -addr http://host:8000 kill 3
//
// The daemon address defaults to $PROCD_ADDR, then http://localhost:8000.
package main
