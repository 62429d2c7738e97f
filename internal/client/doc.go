// Package client is the Go client for procd's HTTP API, used by procctl.
//
// Requests go through resty on top of a retryablehttp transport so that a
// CLI started alongside the daemon rides out the listener coming up.
// Error responses decode into *APIError, which unwraps to the matching
// protocol error.
package client
