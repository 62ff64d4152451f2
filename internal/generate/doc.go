// Package generate provides the HTTP client for the speech-to-text-to-text
// generation backend. An utterance is uploaded as a WAV file and the backend
// answers with a newline-delimited JSON stream of token fragments, exposed
// to callers as a pull-based iterator.
package generate
