// Package document implements the CPU-bound decode step run in the process
// pool: raw fetched documents are normalized into clean extraction-ready
// text. Payloads and results are JSON-transferable because they cross a
// process boundary.
package document

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/calderhq/dispatch/internal/pool"
)

// TaskKind is the process-pool task kind served by this package.
const TaskKind = "decode-document"

// DecodeRequest is the wire payload of one decode task.
type DecodeRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// DecodeResult is the wire result of one decode task.
type DecodeResult struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Bytes int    `json:"bytes"`
	Words int    `json:"words"`
}

// Handlers returns the process-pool handler table hosted by the worker
// subcommand.
func Handlers() map[string]pool.Handler {
	return map[string]pool.Handler{
		TaskKind: decodeHandler,
	}
}

func decodeHandler(_ context.Context, payload json.RawMessage) (any, error) {
	var req DecodeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	text := Normalize(req.Content)
	return DecodeResult{
		Name:  req.Name,
		Text:  text,
		Bytes: len(req.Content),
		Words: len(strings.Fields(text)),
	}, nil
}

// Normalize strips control characters and collapses runs of whitespace so
// downstream prompts see clean text.
func Normalize(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))
	lastSpace := true
	for _, r := range raw {
		switch {
		case r == '\n' || r == '\t' || unicode.IsSpace(r):
			if !lastSpace {
				sb.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsControl(r) || !unicode.IsPrint(r):
			// dropped
		default:
			sb.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
