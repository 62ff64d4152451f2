// Package server provides the two network surfaces of the service: the
// WebSocket endpoint clients stream audio through, and the HTTP API used
// for monitoring and management.
package server
