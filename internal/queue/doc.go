// Package queue provides per-conversation ordered delivery of synthesized
// audio chunks. Each conversation owns exactly one FIFO queue drained by
// exactly one background worker, which guarantees in-order, non-overlapping
// delivery and supports immediate interruption for barge-in.
package queue
