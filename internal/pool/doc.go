// Package pool bridges the queue/service model to OS-level execution. The
// thread variant runs blocking I/O-bound callables on a fixed set of
// goroutines sharing memory with the caller; the process variant ships
// JSON-serializable payloads to long-lived worker subprocesses for CPU-bound
// work. Both convert submission into the same awaitable-result contract used
// by direct services.
package pool
