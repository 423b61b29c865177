package decision

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/calderhq/dispatch/internal/metrics"
)

// Caller obtains a model response for one rendered prompt. It is typically a
// binding over a running dispatch service.
type Caller interface {
	Call(ctx context.Context, prompt string) (string, error)
}

// CallerFunc adapts a plain function to the Caller interface.
type CallerFunc func(ctx context.Context, prompt string) (string, error)

// Call invokes the function.
func (f CallerFunc) Call(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Exchange records one prompt/response pair at a node.
type Exchange struct {
	Node     string `json:"node"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Traversal is the mutable state of one run: the visited path, the full
// transcript, and the terminal response. Each run owns its own Traversal;
// the Graph itself is never mutated.
type Traversal struct {
	Graph     string     `json:"graph"`
	Path      []string   `json:"path"`
	Exchanges []Exchange `json:"exchanges"`
	Final     string     `json:"final"`
}

// Response returns the model response recorded at the named node.
func (t *Traversal) Response(node string) (string, bool) {
	for _, ex := range t.Exchanges {
		if ex.Node == node {
			return ex.Response, true
		}
	}
	return "", false
}

// NavigationError reports a non-terminal node whose response matched none of
// its edge conditions. It names the node and carries the literal response so
// the failure is diagnosable, never silently defaulted.
type NavigationError struct {
	Node     string
	Response string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("no edge condition matched at node %q; last response: %q", e.Node, e.Response)
}

// Engine walks a Graph node by node, obtaining a response from the bound
// caller at each node and taking the first matching edge.
type Engine struct {
	caller Caller
	logger *zap.Logger
}

// NewEngine binds an Engine to caller.
func NewEngine(caller Caller, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Engine{caller: caller, logger: logger}
}

// Run traverses g from its start node and returns the accumulated traversal
// state. A node with no outgoing edge terminates the run with its response
// as the result.
func (e *Engine) Run(ctx context.Context, g *Graph) (*Traversal, error) {
	state := &Traversal{Graph: g.name}
	responses := make(map[string]string)
	current := g.start

	for {
		n := g.nodes[current]
		prompt, err := g.render(current, responses)
		if err != nil {
			metrics.ObserveTraversal(g.name, "error")
			return nil, err
		}
		state.Path = append(state.Path, current)

		response, err := e.caller.Call(ctx, prompt)
		if err != nil {
			metrics.ObserveTraversal(g.name, "error")
			return nil, fmt.Errorf("graph %q: node %q: %w", g.name, current, err)
		}
		state.Exchanges = append(state.Exchanges, Exchange{Node: current, Prompt: prompt, Response: response})
		responses[current] = response

		if len(n.edges) == 0 {
			state.Final = response
			e.logger.Debug("reached terminal node",
				zap.String("graph", g.name),
				zap.String("node", current),
			)
			metrics.ObserveTraversal(g.name, "ok")
			return state, nil
		}

		next := ""
		for _, edge := range n.edges {
			if edge.Cond.Match(response) {
				e.logger.Debug("node transition",
					zap.String("graph", g.name),
					zap.String("from", current),
					zap.String("to", edge.To),
					zap.String("condition", edge.Cond.String()),
				)
				next = edge.To
				break
			}
		}
		if next == "" {
			metrics.ObserveTraversal(g.name, "no_match")
			return nil, &NavigationError{Node: current, Response: response}
		}
		current = next
	}
}
