// Package protocol defines the messages exchanged between processes and the
// process manager, the error codes carried in replies, and the Client that
// turns a post-sleep-read round trip into an ordinary blocking call.
package protocol
