package build

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/events"
	"github.com/graphmill/graphmill/pkg/hooks"
	"github.com/graphmill/graphmill/pkg/llm"
	"github.com/graphmill/graphmill/pkg/log"
	"github.com/graphmill/graphmill/pkg/metrics"
	"github.com/graphmill/graphmill/pkg/types"
)

// GenerateVersion returns the current wall-clock time in milliseconds as
// a decimal string. Versions double as task ids; the task-id uniqueness
// constraint rejects duplicates.
func GenerateVersion() string {
	return fmt.Sprintf("%d", time.Now().UnixMilli())
}

// StateStore is the slice of the storage state machine the pipeline uses
type StateStore interface {
	TryStartTask(ctx context.Context, taskType types.TaskType, version, baseVersion string) (*types.TaskInfo, error)
	UpdateTaskProgress(ctx context.Context, taskID string, progress int, message string) error
	MarkTaskSuccess(ctx context.Context, taskID, version string) error
	MarkTaskFailed(ctx context.Context, taskID, errMsg string) error
}

// GraphStore persists and loads versioned snapshots
type GraphStore interface {
	Write(ctx context.Context, version string, kg *types.KnowledgeGraph) error
	Load(ctx context.Context, version string) (*types.KnowledgeGraph, error)
	CleanupOldVersions(ctx context.Context, retention config.Retention) ([]string, error)
}

// GraphBuilder turns atomic facts into a knowledge graph
type GraphBuilder interface {
	BuildGraph(ctx context.Context, facts []string, obsTimestamp string, prior *types.KnowledgeGraph) (*types.KnowledgeGraph, error)
}

// FactExtractor runs structured extraction over contexts
type FactExtractor interface {
	ExtractStructured(ctx context.Context, schema llm.Schema, contexts []string, systemPrompt string) ([]json.RawMessage, error)
}

// TriggerResult acknowledges an accepted build or update
type TriggerResult struct {
	TaskID      string
	Status      types.KGStatus
	Version     string
	BaseVersion string
}

// Service owns the build pipelines. Triggers claim the graph through the
// state store and detach a pipeline goroutine; at most one pipeline runs
// at a time, enforced by the database.
type Service struct {
	cfg       *config.Config
	state     StateStore
	graphs    GraphStore
	provider  hooks.Provider
	builder   GraphBuilder
	extractor FactExtractor
	broker    *events.Broker
}

// NewService wires the build service
func NewService(cfg *config.Config, state StateStore, graphs GraphStore, provider hooks.Provider, builder GraphBuilder, extractor FactExtractor, broker *events.Broker) *Service {
	return &Service{
		cfg:       cfg,
		state:     state,
		graphs:    graphs,
		provider:  provider,
		builder:   builder,
		extractor: extractor,
		broker:    broker,
	}
}

// TriggerFullBuild claims the graph and detaches a full rebuild. A
// running task surfaces as storage.TaskConflictError.
func (s *Service) TriggerFullBuild(ctx context.Context) (*TriggerResult, error) {
	version := GenerateVersion()
	task, err := s.state.TryStartTask(ctx, types.TaskFullBuild, version, "")
	if err != nil {
		return nil, err
	}
	s.publish(events.EventTaskStarted, task.TaskID, version, 0, "full build started")
	go s.runFullBuild(context.WithoutCancel(ctx), task.TaskID, version)
	return &TriggerResult{TaskID: task.TaskID, Status: types.StatusBuilding, Version: version}, nil
}

// TriggerIncrementalUpdate claims the graph and detaches an incremental
// update on top of baseVersion. The caller resolves baseVersion from the
// state first; an empty one is rejected upstream.
func (s *Service) TriggerIncrementalUpdate(ctx context.Context, baseVersion string) (*TriggerResult, error) {
	version := GenerateVersion()
	task, err := s.state.TryStartTask(ctx, types.TaskIncrementalUpdate, version, baseVersion)
	if err != nil {
		return nil, err
	}
	s.publish(events.EventTaskStarted, task.TaskID, version, 0, "incremental update started")
	go s.runIncrementalUpdate(context.WithoutCancel(ctx), task.TaskID, version, baseVersion)
	return &TriggerResult{TaskID: task.TaskID, Status: types.StatusUpdating, Version: version, BaseVersion: baseVersion}, nil
}

func (s *Service) runFullBuild(ctx context.Context, taskID, version string) {
	logger := log.WithTaskID(taskID)
	started := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()

		s.progress(ctx, taskID, version, 1, "starting full build")
		texts, err := s.provider.FullData(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch full data: %w", err)
		}
		if len(texts) == 0 {
			return fmt.Errorf("hook returned no data; check that the data source has usable documents")
		}
		s.progress(ctx, taskID, version, 10, fmt.Sprintf("fetched %d paragraphs", len(texts)))

		obsTimestamp := time.Now().UTC().Format(time.RFC3339)
		facts, err := s.extractAtomicFacts(ctx, texts, obsTimestamp)
		if err != nil {
			return err
		}
		if len(facts) == 0 {
			return fmt.Errorf("no atomic facts extracted; cannot build the graph")
		}
		s.progress(ctx, taskID, version, 35, fmt.Sprintf("extracted %d atomic facts", len(facts)))

		s.progress(ctx, taskID, version, 45, "building knowledge graph")
		kg, err := s.builder.BuildGraph(ctx, facts, obsTimestamp, nil)
		if err != nil {
			return fmt.Errorf("failed to build graph: %w", err)
		}
		s.progress(ctx, taskID, version, 75, fmt.Sprintf("built %d entities, %d relationships", len(kg.Entities), len(kg.Relationships)))
		metrics.GraphEntities.Set(float64(len(kg.Entities)))
		metrics.GraphRelationships.Set(float64(len(kg.Relationships)))

		s.progress(ctx, taskID, version, 85, "writing to neo4j")
		if err := s.graphs.Write(ctx, version, kg); err != nil {
			return err
		}

		s.progress(ctx, taskID, version, 95, "promoting version and pruning old ones")
		if err := s.state.MarkTaskSuccess(ctx, taskID, version); err != nil {
			return err
		}
		s.prune(ctx, logger)
		return nil
	}()

	if err != nil {
		logger.Error().Err(err).Str("kg_version", version).Msg("Full build failed")
		metrics.BuildsTotal.WithLabelValues(string(types.TaskFullBuild), "failure").Inc()
		s.publish(events.EventTaskFailed, taskID, version, 0, err.Error())
		s.markFailed(ctx, taskID, err)
		return
	}
	logger.Info().Str("kg_version", version).Msg("Full build completed")
	metrics.BuildsTotal.WithLabelValues(string(types.TaskFullBuild), "success").Inc()
	metrics.BuildDuration.WithLabelValues(string(types.TaskFullBuild)).Observe(time.Since(started).Seconds())
	s.publish(events.EventTaskSucceeded, taskID, version, 100, "full build completed")
}

func (s *Service) runIncrementalUpdate(ctx context.Context, taskID, version, baseVersion string) {
	logger := log.WithTaskID(taskID)
	started := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()

		s.progress(ctx, taskID, version, 1, "starting incremental update")
		texts, err := s.provider.IncrementalData(ctx, baseVersion)
		if err != nil {
			return fmt.Errorf("failed to fetch incremental data: %w", err)
		}
		if len(texts) == 0 {
			return fmt.Errorf("hook returned no data since version %s; nothing to update", baseVersion)
		}
		s.progress(ctx, taskID, version, 10, fmt.Sprintf("fetched %d incremental paragraphs", len(texts)))

		s.progress(ctx, taskID, version, 20, "loading base version graph")
		baseKG, err := s.graphs.Load(ctx, baseVersion)
		if err != nil {
			return fmt.Errorf("failed to load base version %s: %w", baseVersion, err)
		}

		obsTimestamp := time.Now().UTC().Format(time.RFC3339)
		facts, err := s.extractAtomicFacts(ctx, texts, obsTimestamp)
		if err != nil {
			return err
		}
		if len(facts) == 0 {
			return fmt.Errorf("no atomic facts extracted; cannot build the graph")
		}
		s.progress(ctx, taskID, version, 45, fmt.Sprintf("extracted %d atomic facts", len(facts)))

		s.progress(ctx, taskID, version, 55, "building new graph version")
		kg, err := s.builder.BuildGraph(ctx, facts, obsTimestamp, baseKG)
		if err != nil {
			return fmt.Errorf("failed to build graph: %w", err)
		}
		s.progress(ctx, taskID, version, 78, fmt.Sprintf("built %d entities, %d relationships", len(kg.Entities), len(kg.Relationships)))
		metrics.GraphEntities.Set(float64(len(kg.Entities)))
		metrics.GraphRelationships.Set(float64(len(kg.Relationships)))

		s.progress(ctx, taskID, version, 88, "writing to neo4j")
		if err := s.graphs.Write(ctx, version, kg); err != nil {
			return err
		}

		s.progress(ctx, taskID, version, 95, "promoting version and pruning old ones")
		if err := s.state.MarkTaskSuccess(ctx, taskID, version); err != nil {
			return err
		}
		s.prune(ctx, logger)
		return nil
	}()

	if err != nil {
		logger.Error().Err(err).Str("kg_version", version).Str("base_version", baseVersion).Msg("Incremental update failed")
		metrics.BuildsTotal.WithLabelValues(string(types.TaskIncrementalUpdate), "failure").Inc()
		s.publish(events.EventTaskFailed, taskID, version, 0, err.Error())
		s.markFailed(ctx, taskID, err)
		return
	}
	logger.Info().Str("kg_version", version).Str("base_version", baseVersion).Msg("Incremental update completed")
	metrics.BuildsTotal.WithLabelValues(string(types.TaskIncrementalUpdate), "success").Inc()
	metrics.BuildDuration.WithLabelValues(string(types.TaskIncrementalUpdate)).Observe(time.Since(started).Seconds())
	s.publish(events.EventTaskSucceeded, taskID, version, 100, "incremental update completed")
}

// extractAtomicFacts frames each paragraph with the observation date,
// runs the structured extraction pass, and flattens the fact lists.
func (s *Service) extractAtomicFacts(ctx context.Context, texts []string, obsTimestamp string) ([]string, error) {
	contexts := make([]string, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		contexts = append(contexts, fmt.Sprintf("observation_date: %s\n\nparagraph:\n%s", obsTimestamp, t))
	}
	if len(contexts) == 0 {
		return nil, nil
	}

	systemPrompt := ""
	if strings.HasPrefix(strings.ToLower(s.cfg.Output.Language), "zh") && s.cfg.Output.EntityNameMode == "source" {
		systemPrompt = zhSourceFactPrompt(obsTimestamp)
	}

	blocks, err := s.extractor.ExtractStructured(ctx, AtomicFactSchema, contexts, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to extract atomic facts: %w", err)
	}

	var facts []string
	for _, block := range blocks {
		if len(block) == 0 {
			continue
		}
		var parsed atomicFactList
		if err := json.Unmarshal(block, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode atomic facts: %w", err)
		}
		for _, f := range parsed.AtomicFact {
			if f = strings.TrimSpace(f); f != "" {
				facts = append(facts, f)
			}
		}
	}
	return facts, nil
}

func (s *Service) progress(ctx context.Context, taskID, version string, pct int, message string) {
	if err := s.state.UpdateTaskProgress(ctx, taskID, pct, message); err != nil {
		logger := log.WithTaskID(taskID)
		logger.Warn().Err(err).Msg("Failed to update task progress")
	}
	s.publish(events.EventTaskProgress, taskID, version, pct, message)
}

func (s *Service) prune(ctx context.Context, logger zerolog.Logger) {
	deleted, err := s.graphs.CleanupOldVersions(ctx, s.cfg.Retention)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to prune old graph versions")
		return
	}
	metrics.VersionsPruned.Add(float64(len(deleted)))
}

func (s *Service) markFailed(ctx context.Context, taskID string, cause error) {
	if err := s.state.MarkTaskFailed(ctx, taskID, cause.Error()); err != nil {
		logger := log.WithTaskID(taskID)
		logger.Error().Err(err).Msg("Failed to record task failure")
	}
}

func (s *Service) publish(eventType events.EventType, taskID, version string, progress int, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:     eventType,
		TaskID:   taskID,
		Version:  version,
		Progress: progress,
		Message:  message,
	})
}
