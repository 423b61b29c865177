package decision

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/calderhq/dispatch/internal/dispatch"
)

// Edge is one ordered outgoing transition of a node.
type Edge struct {
	Cond Condition
	To   string
}

type node struct {
	id     string
	prompt *template.Template
	edges  []Edge
}

// Graph is an immutable DAG of prompt nodes built via Builder. Nodes hold
// prompt templates rendered against graph parameters and earlier responses;
// a node with no outgoing edge is terminal. Traversal state lives entirely
// in the per-run Traversal, so one Graph may serve concurrent runs.
type Graph struct {
	name   string
	start  string
	nodes  map[string]*node
	params map[string]any
}

// Name returns the graph's name, used in logs and metrics.
func (g *Graph) Name() string {
	return g.name
}

// Start returns the designated start node.
func (g *Graph) Start() string {
	return g.start
}

// promptData is the template context for node prompts: static graph
// parameters plus responses from nodes already visited in this run.
type promptData struct {
	Params    map[string]any
	Responses map[string]string
}

func (g *Graph) render(id string, responses map[string]string) (string, error) {
	n := g.nodes[id]
	var sb strings.Builder
	data := promptData{Params: g.params, Responses: responses}
	if err := n.prompt.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt for node %q: %w", id, err)
	}
	return sb.String(), nil
}

// Builder accumulates nodes and edges for a Graph. Declaration order of a
// node's edges is the order conditions are evaluated in.
type Builder struct {
	name      string
	start     string
	prompts   map[string]string
	nodeOrder []string
	edges     map[string][]Edge
	params    map[string]any
}

// NewBuilder starts a graph named name whose traversal begins at start.
func NewBuilder(name, start string) *Builder {
	return &Builder{
		name:    name,
		start:   start,
		prompts: make(map[string]string),
		edges:   make(map[string][]Edge),
		params:  make(map[string]any),
	}
}

// Node declares a prompt node. The prompt is a text/template body with
// access to {{.Params}} and {{.Responses}}.
func (b *Builder) Node(id, prompt string) *Builder {
	if _, ok := b.prompts[id]; !ok {
		b.nodeOrder = append(b.nodeOrder, id)
	}
	b.prompts[id] = prompt
	return b
}

// Edge declares a transition from one node to another, taken when cond is
// the first matching condition of the response at from.
func (b *Builder) Edge(from string, cond Condition, to string) *Builder {
	b.edges[from] = append(b.edges[from], Edge{Cond: cond, To: to})
	return b
}

// Param sets a static template parameter available to every prompt.
func (b *Builder) Param(key string, val any) *Builder {
	b.params[key] = val
	return b
}

// Build validates the declaration and returns the immutable Graph: the start
// node must exist, every edge must reference declared nodes and carry a
// condition, and the edge set must be acyclic by construction.
func (b *Builder) Build() (*Graph, error) {
	if len(b.prompts) == 0 {
		return nil, dispatch.Usagef("graph %q has no nodes", b.name)
	}
	if _, ok := b.prompts[b.start]; !ok {
		return nil, dispatch.Usagef("graph %q: start node %q is not declared", b.name, b.start)
	}

	nodes := make(map[string]*node, len(b.prompts))
	for _, id := range b.nodeOrder {
		tmpl, err := template.New(id).Parse(b.prompts[id])
		if err != nil {
			return nil, fmt.Errorf("graph %q: parse prompt for node %q: %w", b.name, id, err)
		}
		nodes[id] = &node{id: id, prompt: tmpl}
	}
	for from, edges := range b.edges {
		if _, ok := nodes[from]; !ok {
			return nil, dispatch.Usagef("graph %q: edge from undeclared node %q", b.name, from)
		}
		for _, e := range edges {
			if e.Cond == nil {
				return nil, dispatch.Usagef("graph %q: edge %s -> %s has no condition", b.name, from, e.To)
			}
			if _, ok := nodes[e.To]; !ok {
				return nil, dispatch.Usagef("graph %q: edge %s -> %s targets undeclared node", b.name, from, e.To)
			}
		}
		nodes[from].edges = append([]Edge(nil), edges...)
	}

	if cycle := findCycle(nodes); len(cycle) > 0 {
		return nil, dispatch.Usagef("graph %q contains a cycle: %s", b.name, strings.Join(cycle, " -> "))
	}

	params := make(map[string]any, len(b.params))
	for k, v := range b.params {
		params[k] = v
	}
	return &Graph{
		name:   b.name,
		start:  b.start,
		nodes:  nodes,
		params: params,
	}, nil
}

// findCycle runs a three-color DFS over every node and returns one cycle
// path if the graph is not acyclic.
func findCycle(nodes map[string]*node) []string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, e := range nodes[id].edges {
			switch color[e.To] {
			case grey:
				for i, s := range stack {
					if s == e.To {
						cycle = append(append([]string(nil), stack[i:]...), e.To)
						return true
					}
				}
			case white:
				if visit(e.To) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}
