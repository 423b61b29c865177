package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/calderhq/dispatch/internal/backend/document"
	"github.com/calderhq/dispatch/internal/backend/files"
	oai "github.com/calderhq/dispatch/internal/backend/openai"
	"github.com/calderhq/dispatch/internal/config"
	"github.com/calderhq/dispatch/internal/decision"
	"github.com/calderhq/dispatch/internal/metrics"
	"github.com/calderhq/dispatch/internal/registry"
	"github.com/calderhq/dispatch/internal/service"
)

// newExtractCmd creates the 'extract' subcommand: decode one document in the
// process pool, walk the extraction decision graph against the model
// service, archive the source file, and print the traversal as JSON.
func newExtractCmd() *cobra.Command {
	var docPath string
	var subject string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run the extraction decision graph over a document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtractCommand(cmd.Context(), docPath, subject)
		},
	}
	cmd.Flags().StringVar(&docPath, "doc", "", "path to the document to extract from (required)")
	cmd.Flags().StringVar(&subject, "subject", "large wind energy systems", "subject the extraction graph asks about")
	_ = cmd.MarkFlagRequired("doc")
	return cmd
}

func runExtractCommand(ctx context.Context, docPath, subject string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	raw, err := os.ReadFile(docPath) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	svcs, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}

	reg := registry.New(logger)
	return reg.Run(ctx, func(ctx context.Context) error {
		return extract(ctx, reg, cfg, logger, docPath, subject, string(raw))
	}, svcs...)
}

func extract(
	ctx context.Context,
	reg *registry.Registry,
	cfg config.Config,
	logger *zap.Logger,
	docPath string,
	subject string,
	raw string,
) error {
	decoded, err := reg.Call(ctx, DecoderService, document.DecodeRequest{
		Name:    filepath.Base(docPath),
		Content: raw,
	})
	if err != nil {
		return err
	}
	decodedVal, err := decoded.Await(ctx)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	text := decodedText(decodedVal)

	modelSvc, err := reg.Lookup(ModelService)
	if err != nil {
		return err
	}
	caller := newModelCaller(modelSvc, cfg.Model.MaxTokens)

	graph, err := buildExtractionGraph(subject, text)
	if err != nil {
		return err
	}
	traversal, err := decision.NewEngine(caller, logger).Run(ctx, graph)
	if err != nil {
		return err
	}

	// Archive the processed source without blocking on the model side.
	moved, err := reg.Call(ctx, MoverService, files.MoveRequest{Src: docPath})
	if err != nil {
		return err
	}
	if _, err := moved.Await(ctx); err != nil {
		logger.Warn("archive source failed", zap.String("doc", docPath), zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(traversal)
}

// newModelCaller binds the decision engine to the model service, metering
// each prompt's estimated token cost against the shared rate gate.
func newModelCaller(svc *service.Service, maxTokens int) decision.Caller {
	return decision.CallerFunc(func(ctx context.Context, prompt string) (string, error) {
		p := oai.Prompt{User: prompt, MaxTokens: maxTokens}
		res, err := svc.Do(ctx, p, service.WithCost(oai.EstimateCost(p)))
		if err != nil {
			return "", err
		}
		text, ok := res.(string)
		if !ok {
			return "", fmt.Errorf("unexpected model result type %T", res)
		}
		return text, nil
	})
}

// buildExtractionGraph is the relevance-then-extract procedure: ask whether
// the document covers the subject, then either pull the requirements out or
// explain why it does not apply.
func buildExtractionGraph(subject, text string) (*decision.Graph, error) {
	return decision.NewBuilder("extraction", "init").
		Param("subject", subject).
		Param("document", text).
		Node("init",
			"Does the following document contain requirements that apply to "+
				"{{.Params.subject}}? Begin your answer with \"Yes\" or \"No\".\n\n"+
				"{{.Params.document}}").
		Node("extract",
			"List every requirement in the document that applies to "+
				"{{.Params.subject}}. Quote the relevant passages verbatim and "+
				"keep the document's own numbering where present.\n\n"+
				"{{.Params.document}}").
		Node("irrelevant",
			"In one sentence, state why the document does not regulate "+
				"{{.Params.subject}}. Your earlier assessment was: {{.Responses.init}}").
		Edge("init", decision.Prefix("Yes"), "extract").
		Edge("init", decision.Default(), "irrelevant").
		Build()
}

func decodedText(val any) string {
	m, ok := val.(map[string]any)
	if !ok {
		return fmt.Sprint(val)
	}
	if text, ok := m["text"].(string); ok {
		return text
	}
	return fmt.Sprint(val)
}
