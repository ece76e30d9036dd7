// Package provision configures the search engine for semantic search: it
// applies ML cluster settings, registers and deploys the pretrained embedding
// model inside the engine's ML runtime, creates the text-embedding ingest
// pipeline, and creates the k-NN index that the pipeline feeds. It is invoked
// by the `sai setup` CLI command.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcedai/sai-go/internal/engine"
)

// adminClient is the slice of the engine client the provisioner depends on.
// *engine.Client satisfies it; tests inject a fake.
type adminClient interface {
	Ping(ctx context.Context) error
	Info(ctx context.Context) (*engine.ClusterInfo, error)
	PutClusterSettings(ctx context.Context, persistent map[string]any) error
	RegisterModel(ctx context.Context, name, version, format string) (string, error)
	DeployModel(ctx context.Context, modelID string) (string, error)
	GetTask(ctx context.Context, taskID string) (*engine.TaskStatus, error)
	GetModelState(ctx context.Context, modelID string) (string, error)
	PutIngestPipeline(ctx context.Context, name, modelID string, fieldMap map[string]string) error
	CreateKNNIndex(ctx context.Context, index string, spec engine.IndexSpec) error
	IndexExists(ctx context.Context, index string) (bool, error)
	DeleteIndex(ctx context.Context, index string) error
}

// Config holds the configuration for a Provisioner.
type Config struct {
	// Index is the k-NN index name to create.
	Index string

	// Pipeline is the ingest pipeline name.
	Pipeline string

	// TextField is the source field the pipeline embeds.
	TextField string

	// EmbeddingField is the knn_vector target field.
	EmbeddingField string

	// Dimension is the embedding vector dimension. Defaults to 384, the
	// output size of the default sentence-transformers model.
	Dimension int

	// ModelName is the pretrained model to register
	// (default: huggingface/sentence-transformers/all-MiniLM-L6-v2).
	ModelName string

	// ModelVersion is the model version string (default: 1.0.1).
	ModelVersion string

	// ModelFormat is the model artifact format (default: TORCH_SCRIPT).
	ModelFormat string

	// PollInterval is how often task and model state are polled (default: 5s).
	PollInterval time.Duration

	// Timeout bounds each wait phase — registration, deployment, readiness
	// (default: 5m per phase).
	Timeout time.Duration

	// ModelIDPath is where the deployed model ID is persisted for later
	// ingest/search invocations. Defaults to ~/.sai/model_id.
	ModelIDPath string

	// Logger is the structured logger. Defaults to slog.Default if nil.
	Logger *slog.Logger
}

// Provisioner drives the engine's administrative REST API through the full
// setup sequence.
type Provisioner struct {
	// client is the engine admin API.
	client adminClient

	// cfg holds the resolved configuration.
	cfg *Config
}

// New constructs a Provisioner from the provided engine client and config.
func New(client adminClient, cfg *Config) (*Provisioner, error) {
	if client == nil {
		return nil, fmt.Errorf("provision: engine client must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Index == "" {
		cfg.Index = "sourced-ai-index"
	}
	if cfg.Pipeline == "" {
		cfg.Pipeline = "nlp-ingest-pipeline"
	}
	if cfg.TextField == "" {
		cfg.TextField = "text"
	}
	if cfg.EmbeddingField == "" {
		cfg.EmbeddingField = "text_embedding"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 384
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "huggingface/sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = "1.0.1"
	}
	if cfg.ModelFormat == "" {
		cfg.ModelFormat = "TORCH_SCRIPT"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provisioner{client: client, cfg: cfg}, nil
}

// Setup runs the full provisioning sequence: verify connectivity, apply ML
// cluster settings, register and deploy the embedding model (polling each
// asynchronous task to completion), create the ingest pipeline, and create
// the k-NN index. Returns the deployed model ID.
func (p *Provisioner) Setup(ctx context.Context) (string, error) {
	log := p.cfg.Logger

	info, err := p.client.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("provision: cluster not reachable: %w", err)
	}
	log.Info("connected to cluster",
		slog.String("cluster", info.ClusterName),
		slog.String("version", info.Version.Number),
	)

	// ML workloads must be allowed on data nodes of the single-node dev cluster.
	settings := map[string]any{
		"plugins.ml_commons.only_run_on_ml_node":     "false",
		"plugins.ml_commons.native_memory_threshold": "99",
	}
	if err := p.client.PutClusterSettings(ctx, settings); err != nil {
		return "", fmt.Errorf("provision: cluster settings: %w", err)
	}
	log.Info("ML cluster settings applied")

	modelID, err := p.registerAndDeployModel(ctx)
	if err != nil {
		return "", err
	}

	if err := p.saveModelID(modelID); err != nil {
		log.Warn("could not persist model ID", slog.Any("error", err))
	} else {
		log.Info("model ID persisted", slog.String("model_id", modelID), slog.String("path", p.cfg.ModelIDPath))
	}

	fieldMap := map[string]string{p.cfg.TextField: p.cfg.EmbeddingField}
	if err := p.client.PutIngestPipeline(ctx, p.cfg.Pipeline, modelID, fieldMap); err != nil {
		return "", fmt.Errorf("provision: ingest pipeline: %w", err)
	}
	log.Info("ingest pipeline created", slog.String("pipeline", p.cfg.Pipeline))

	if err := p.createIndex(ctx); err != nil {
		return "", err
	}
	log.Info("k-NN index created", slog.String("index", p.cfg.Index), slog.Int("dimension", p.cfg.Dimension))

	return modelID, nil
}

// registerAndDeployModel registers the pretrained model, waits for the
// registration task, deploys the model, waits for the deployment task, then
// polls the model state until it reports DEPLOYED.
func (p *Provisioner) registerAndDeployModel(ctx context.Context) (string, error) {
	log := p.cfg.Logger

	regTask, err := p.client.RegisterModel(ctx, p.cfg.ModelName, p.cfg.ModelVersion, p.cfg.ModelFormat)
	if err != nil {
		return "", fmt.Errorf("provision: register model: %w", err)
	}
	log.Info("model registration started", slog.String("task_id", regTask))

	modelID, err := p.waitForTask(ctx, regTask, "registration")
	if err != nil {
		return "", err
	}
	log.Info("model registered", slog.String("model_id", modelID))

	deployTask, err := p.client.DeployModel(ctx, modelID)
	if err != nil {
		return "", fmt.Errorf("provision: deploy model: %w", err)
	}
	log.Info("model deployment started", slog.String("task_id", deployTask))

	if _, err := p.waitForTask(ctx, deployTask, "deployment"); err != nil {
		return "", err
	}

	if err := p.waitForModelReady(ctx, modelID); err != nil {
		return "", err
	}
	log.Info("model ready for inference", slog.String("model_id", modelID))

	return modelID, nil
}

// waitForTask polls an asynchronous ML task until it completes, fails, or the
// phase timeout elapses. For registration tasks the returned string is the
// model ID extracted from the completed task.
func (p *Provisioner) waitForTask(ctx context.Context, taskID, operation string) (string, error) {
	deadline := time.Now().Add(p.cfg.Timeout)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := p.client.GetTask(ctx, taskID)
		if err != nil {
			return "", fmt.Errorf("provision: poll %s task: %w", operation, err)
		}

		switch status.State {
		case engine.TaskCompleted:
			return status.ModelID, nil
		case engine.TaskFailed:
			return "", fmt.Errorf("provision: model %s failed: %s", operation, status.Error)
		}

		p.cfg.Logger.Debug("task in progress",
			slog.String("operation", operation),
			slog.String("state", status.State),
		)

		if time.Now().After(deadline) {
			return "", fmt.Errorf("provision: model %s timed out after %s", operation, p.cfg.Timeout)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", fmt.Errorf("provision: %s wait cancelled: %w", operation, ctx.Err())
		}
	}
}

// waitForModelReady polls the model state until it reports DEPLOYED.
// Deployment tasks can complete before every node finishes loading the model,
// so this second check is required before the pipeline is usable.
func (p *Provisioner) waitForModelReady(ctx context.Context, modelID string) error {
	deadline := time.Now().Add(p.cfg.Timeout)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		state, err := p.client.GetModelState(ctx, modelID)
		if err != nil {
			p.cfg.Logger.Warn("model state check failed", slog.Any("error", err))
		} else if state == engine.ModelDeployed {
			return nil
		} else {
			p.cfg.Logger.Debug("model deployment in progress", slog.String("model_state", state))
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("provision: model not ready after %s", p.cfg.Timeout)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("provision: readiness wait cancelled: %w", ctx.Err())
		}
	}
}

// createIndex creates the k-NN index, deleting and recreating it if it
// already exists so setup is repeatable.
func (p *Provisioner) createIndex(ctx context.Context) error {
	exists, err := p.client.IndexExists(ctx, p.cfg.Index)
	if err != nil {
		return fmt.Errorf("provision: index existence check: %w", err)
	}
	if exists {
		p.cfg.Logger.Info("index already exists, recreating", slog.String("index", p.cfg.Index))
		if err := p.client.DeleteIndex(ctx, p.cfg.Index); err != nil {
			return fmt.Errorf("provision: delete existing index: %w", err)
		}
	}

	spec := engine.IndexSpec{
		Pipeline:       p.cfg.Pipeline,
		TextField:      p.cfg.TextField,
		EmbeddingField: p.cfg.EmbeddingField,
		Dimension:      p.cfg.Dimension,
	}
	if err := p.client.CreateKNNIndex(ctx, p.cfg.Index, spec); err != nil {
		return fmt.Errorf("provision: create index: %w", err)
	}
	return nil
}

// saveModelID persists the deployed model ID so later ingest and search
// invocations can load it without re-provisioning.
func (p *Provisioner) saveModelID(modelID string) error {
	path := p.cfg.ModelIDPath
	if path == "" {
		var err error
		path, err = DefaultModelIDPath()
		if err != nil {
			return err
		}
		p.cfg.ModelIDPath = path
	}
	if err := os.WriteFile(path, []byte(modelID+"\n"), 0o600); err != nil {
		return fmt.Errorf("provision: write model ID: %w", err)
	}
	return nil
}

// DefaultModelIDPath returns the default location of the persisted model ID.
// It resolves to ~/.sai/model_id, creating the directory if needed.
func DefaultModelIDPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("provision: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".sai")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("provision: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "model_id"), nil
}

// LoadModelID reads a previously persisted model ID. An empty path resolves
// to the default location.
func LoadModelID(path string) (string, error) {
	if path == "" {
		var err error
		path, err = DefaultModelIDPath()
		if err != nil {
			return "", err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("provision: no model ID at %s (run `sai setup` first): %w", path, err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("provision: model ID file %s is empty", path)
	}
	return id, nil
}
