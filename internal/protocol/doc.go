// Package protocol defines the JSON message contract exchanged with clients
// over the bidirectional stream. It covers inbound audio submissions and the
// outbound token, chunk, audio, interruption, completion, and error events.
package protocol
