// Package chunker segments a live token stream into minimal text units that
// are safe to hand to speech synthesis immediately. Boundary detection is
// ordered from "complete thought" (sentence end) down to "speak this single
// token now" (word-count fallback), deliberately trading chunk naturalness
// for latency; downstream ordered delivery preserves coherence.
package chunker
