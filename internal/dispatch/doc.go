// Package dispatch defines the shared contracts of the service-dispatch
// runtime: work items with single-assignment result slots, the error taxonomy
// surfaced to callers, and the Queue/Gate/Backend interfaces implemented by
// the concrete subsystems.
package dispatch
