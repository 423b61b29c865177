package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/calderhq/dispatch/internal/dispatch"
)

// wireTask is one unit of work shipped to a worker subprocess as a JSON line.
type wireTask struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wireResult is the subprocess reply for a single task.
type wireResult struct {
	ID        string          `json:"id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Transient bool            `json:"transient,omitempty"`
}

// Handler processes one process-pool task kind inside a worker subprocess.
// Payloads and results must round-trip through JSON.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// RunWorker is the worker-subprocess side of the process pool: it reads tasks
// from r one JSON line at a time, runs the matching handler, and writes the
// result to w. It returns once r reaches EOF.
func RunWorker(ctx context.Context, r io.Reader, w io.Writer, handlers map[string]Handler) error {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)
	for {
		var task wireTask
		if err := dec.Decode(&task); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("pool worker decode: %w", err)
		}
		res := runHandler(ctx, task, handlers)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("pool worker encode: %w", err)
		}
	}
}

func runHandler(ctx context.Context, task wireTask, handlers map[string]Handler) wireResult {
	handler, ok := handlers[task.Kind]
	if !ok {
		return wireResult{ID: task.ID, Error: fmt.Sprintf("unknown task kind %q", task.Kind)}
	}
	val, err := handler(ctx, task.Payload)
	if err != nil {
		return wireResult{ID: task.ID, Error: err.Error(), Transient: dispatch.IsTransient(err)}
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return wireResult{ID: task.ID, Error: fmt.Sprintf("marshal result: %v", err)}
	}
	return wireResult{ID: task.ID, Result: raw}
}
