package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptCaller replays canned responses in order and records the rendered
// prompts it was handed.
type scriptCaller struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
}

func (c *scriptCaller) Call(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if len(c.responses) == 0 {
		return "", errors.New("script exhausted")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func screeningGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewBuilder("screening", "init").
		Node("init", `Does the text mention {{.Params.subject}}? Begin with Yes or No.`).
		Node("extract", `The screen said {{index .Responses "init"}}. Extract the requirement.`).
		Edge("init", Prefix("Yes"), "extract").
		Build()
	require.NoError(t, err)
	return g
}

func TestRunReachesTerminalNode(t *testing.T) {
	t.Parallel()
	caller := &scriptCaller{responses: []string{"Yes, confirmed.", "Setbacks are 500 feet."}}
	eng := NewEngine(caller, nil)

	tr, err := eng.Run(context.Background(), screeningGraph(t))
	require.NoError(t, err)

	assert.Equal(t, "screening", tr.Graph)
	assert.Equal(t, []string{"init", "extract"}, tr.Path)
	assert.Equal(t, "Setbacks are 500 feet.", tr.Final)
	require.Len(t, tr.Exchanges, 2)

	initResp, ok := tr.Response("init")
	require.True(t, ok)
	assert.Equal(t, "Yes, confirmed.", initResp)

	_, ok = tr.Response("never-visited")
	assert.False(t, ok)
}

func TestRunRendersParamsAndResponses(t *testing.T) {
	t.Parallel()
	g, err := NewBuilder("templated", "init").
		Node("init", `Subject: {{.Params.subject}}.`).
		Node("next", `Earlier you said {{index .Responses "init"}}.`).
		Edge("init", Default(), "next").
		Param("subject", "wind turbines").
		Build()
	require.NoError(t, err)

	caller := &scriptCaller{responses: []string{"first answer", "second answer"}}
	eng := NewEngine(caller, nil)

	_, err = eng.Run(context.Background(), g)
	require.NoError(t, err)

	require.Len(t, caller.prompts, 2)
	assert.Equal(t, "Subject: wind turbines.", caller.prompts[0])
	assert.Equal(t, "Earlier you said first answer.", caller.prompts[1])
}

func TestRunNavigationError(t *testing.T) {
	t.Parallel()
	caller := &scriptCaller{responses: []string{"No."}}
	eng := NewEngine(caller, nil)

	tr, err := eng.Run(context.Background(), screeningGraph(t))
	require.Nil(t, tr)

	var nav *NavigationError
	require.ErrorAs(t, err, &nav)
	assert.Equal(t, "init", nav.Node)
	assert.Equal(t, "No.", nav.Response)
	assert.Contains(t, err.Error(), `node "init"`)
	assert.Contains(t, err.Error(), `"No."`)
}

func TestRunDefaultEdgeActsAsElse(t *testing.T) {
	t.Parallel()
	g, err := NewBuilder("branching", "init").
		Node("init", "screen").
		Node("yes", "on yes").
		Node("other", "on anything else").
		Edge("init", Prefix("Yes"), "yes").
		Edge("init", Default(), "other").
		Build()
	require.NoError(t, err)

	caller := &scriptCaller{responses: []string{"Unclear, needs review.", "done"}}
	eng := NewEngine(caller, nil)

	tr, err := eng.Run(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "other"}, tr.Path)
}

func TestRunEdgeOrderDecidesTies(t *testing.T) {
	t.Parallel()
	g, err := NewBuilder("ordered", "init").
		Node("init", "screen").
		Node("first", "p").
		Node("second", "p").
		Edge("init", Contains("ordinance"), "first").
		Edge("init", Default(), "second").
		Build()
	require.NoError(t, err)

	caller := &scriptCaller{responses: []string{"the ordinance says...", "done"}}
	eng := NewEngine(caller, nil)

	tr, err := eng.Run(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "first"}, tr.Path, "the first declared matching edge wins")
}

func TestRunCallerErrorNamesNode(t *testing.T) {
	t.Parallel()
	boom := errors.New("model unavailable")
	eng := NewEngine(CallerFunc(func(context.Context, string) (string, error) {
		return "", boom
	}), nil)

	_, err := eng.Run(context.Background(), screeningGraph(t))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `node "init"`)
}

func TestRunsAreIndependent(t *testing.T) {
	t.Parallel()
	g := screeningGraph(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			final := fmt.Sprintf("result-%d", i)
			caller := &scriptCaller{responses: []string{"Yes.", final}}
			tr, err := NewEngine(caller, nil).Run(context.Background(), g)
			if err != nil {
				t.Errorf("run %d: %v", i, err)
				return
			}
			if tr.Final != final {
				t.Errorf("run %d: final = %q, want %q", i, tr.Final, final)
			}
		}(i)
	}
	wg.Wait()
}
