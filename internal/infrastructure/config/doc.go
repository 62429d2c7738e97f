// Package config provides 12-factor configuration management for the
// process supervisor.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Process: table size, pipe and signal buffer sizes, program root
//   - Runtime: JavaScript runtime limits
//   - Boot: manifest of programs launched at startup
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - MAX_PID, PIPE_SIZE, SIGNAL_SIZE, REQUIRE_TTY, PROGRAM_ROOT,
//     DEFAULT_PROGRAM
//   - RUNTIME_STACK_SIZE, RUNTIME_CONSOLE
//   - BOOT_MANIFEST
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
