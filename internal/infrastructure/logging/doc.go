// Package logging provides structured logging using uber/zap.
//
// This package offers two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components receive a plain *zap.Logger from Component, tagged with the
// component name. The level can be changed at runtime with SetLevel.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Component("manager").Info("Process exited", zap.Int("pid", 3))
package logging
