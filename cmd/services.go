package cmd

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/calderhq/dispatch/internal/backend/document"
	"github.com/calderhq/dispatch/internal/backend/files"
	oai "github.com/calderhq/dispatch/internal/backend/openai"
	"github.com/calderhq/dispatch/internal/config"
	"github.com/calderhq/dispatch/internal/pool"
	"github.com/calderhq/dispatch/internal/service"
)

// Registry names of the built-in services.
const (
	ModelService   = "model"
	MoverService   = "file-mover"
	DecoderService = "doc-decoder"
)

// buildServices constructs the fixed service set from configuration: the
// rate-limited model caller, the thread-pooled file mover, and the
// process-pooled document decoder.
func buildServices(cfg config.Config, logger *zap.Logger) ([]*service.Service, error) {
	backend, err := oai.New(oai.Config{
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
		Model:   cfg.Model.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("model backend: %w", err)
	}
	modelSvc, err := service.New(service.Config{
		Name:           ModelService,
		Backend:        backend,
		RateLimit:      cfg.Model.RateLimit,
		Window:         time.Duration(cfg.Model.WindowSeconds) * time.Second,
		PollInterval:   time.Duration(cfg.Model.PollIntervalMs) * time.Millisecond,
		RetryCount:     cfg.Model.RetryCount,
		RetryBaseDelay: time.Duration(cfg.Model.RetryBackoffMs) * time.Millisecond,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	tp := pool.NewThreadPool(cfg.Pools.ThreadWorkers, logger)
	moverSvc, err := service.New(service.Config{
		Name:      MoverService,
		Backend:   pool.NewBlockingBackend(tp, files.NewMover(cfg.Files.OutDir).Execute),
		Resources: []service.Resource{tp},
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	pp := pool.NewProcessPool(cfg.Pools.ProcessWorkers, []string{exe, "pool-worker"}, logger)
	decoderSvc, err := service.New(service.Config{
		Name:      DecoderService,
		Backend:   pool.NewSubprocessBackend(pp, document.TaskKind),
		Resources: []service.Resource{pp},
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return []*service.Service{modelSvc, moverSvc, decoderSvc}, nil
}
