// Package main is the entry point for procd, the process supervisor daemon.
//
// procd hosts the process manager, runs programs from the program root in
// execution units and exposes the process table over HTTP and WebSocket.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Serve ./programs on port 8000
//	./procd
//
//	# Development mode (colored logs, debug level) with a boot manifest
//	./procd -dev -boot ./boot.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
