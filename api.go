// Package calltrace turns a stream of call/return notifications into a
// strictly nested span trace in the Chrome trace-event format.
//
// The notification stream emitted by a host runtime is not guaranteed to be
// balanced. Entries without a matching exit (suppressed upstream, or cut off
// because tracing started or stopped mid-call) are detected and discarded
// without corrupting sibling or ancestor spans.
//
// Core Components:
//   - Source: delivers notifications for one thread of execution (Probe is the
//     Go-native implementation, ReplaySource replays a recording).
//   - Buffer: append-only, bounded store of raw notifications.
//   - Resolver: maps a call target and source location to a (name, category)
//     identity.
//   - Reconcile: matches begins to ends under a stack discipline and prunes
//     dangling entries.
//   - Trace: the reconciled spans plus process/thread metadata, written
//     atomically with WriteFile.
//
// Basic Usage:
//
//	probe := calltrace.NewProbe()
//
//	err := calltrace.Run(probe, "trace.json", func() error {
//		work(probe)
//		return nil
//	})
//
//	func work(p *calltrace.Probe) {
//		defer p.Enter().Exit()
//		// ...
//	}
//
// Sessions:
//
// A Session owns its buffer, its base timestamp and its registration with the
// source. Start acquires all three; Stop releases the registration, reconciles
// and writes the trace. Run and Traceable guarantee Stop runs on every exit
// path, including panics, and re-raise whatever the traced code raised.
//
// Thread Safety:
//
// Ingestion is single-threaded and synchronous: a Source delivers each
// notification inline on the goroutine executing the traced code. Only one
// Session may be subscribed to a Source at a time.
package calltrace

// Missing is the argument kind recorded when a call carries no argument.
const Missing = "MISSING"

// Name is a span identity, "<file>:<line>:<callable>".
type Name = string

// Category is a span bucket derived from the call target's kind.
type Category = string
