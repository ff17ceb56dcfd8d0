// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package im2latex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pavviaz/im2latex/lib/backends"
	"github.com/pavviaz/im2latex/lib/decoding"
)

// DecodeRequest asks for one input to be decoded.
type DecodeRequest struct {
	Model    string
	Strategy decoding.Kind
	Input    backends.Input
	Options  []decoding.Option
}

// Document is a multi-page input.
type Document struct {
	ID    string
	Pages []backends.Input
}

// DocumentResult holds per-page results in page order and their best
// sequences joined into one text.
type DocumentResult struct {
	ID        string             `json:"id"`
	Text      string             `json:"text"`
	Pages     []*decoding.Result `json:"pages"`
	Exhausted bool               `json:"exhausted"`
}

// Service decodes inputs with models from a ModelRegistry.
type Service struct {
	config   Config
	registry *ModelRegistry
	cache    *ContextCache
	logger   *zap.Logger
}

// NewService creates a service and discovers the models in config.ModelsDir.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	registry, err := NewModelRegistry(RegistryConfig{
		ModelsDir:       config.ModelsDir,
		KeepAlive:       config.KeepAlive,
		MaxLoadedModels: config.MaxLoadedModels,
		Decoding:        config.Decoding,
	}, logger.Named("registry"))
	if err != nil {
		return nil, err
	}
	if err := registry.Preload(config.Preload); err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("preloading models: %w", err)
	}

	s := &Service{
		config:   config,
		registry: registry,
		logger:   logger,
	}
	if config.ContextCacheTTL >= 0 {
		s.cache = NewContextCache(config.ContextCacheTTL, config.ContextCacheCapacity, logger.Named("context-cache"))
	}
	return s, nil
}

// Registry returns the service's model registry.
func (s *Service) Registry() *ModelRegistry { return s.registry }

// CacheStats returns context cache statistics; zero when caching is off.
func (s *Service) CacheStats() ContextCacheStats {
	if s.cache == nil {
		return ContextCacheStats{}
	}
	return s.cache.Stats()
}

// Decode decodes a single input.
func (s *Service) Decode(ctx context.Context, req DecodeRequest) (*decoding.Result, error) {
	logger := s.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("model", req.Model),
		zap.String("strategy", string(req.Strategy)))

	m, err := s.registry.Acquire(req.Model)
	if err != nil {
		RecordDecodeRequest(req.Model, string(req.Strategy), "not_found")
		return nil, err
	}
	defer s.registry.Release(req.Model)

	return s.decodeWith(ctx, logger, m, req)
}

func (s *Service) decodeWith(ctx context.Context, logger *zap.Logger, m *LoadedModel, req DecodeRequest) (*decoding.Result, error) {
	start := time.Now()
	result, err := s.decode(ctx, m, req)
	strategy := string(req.Strategy)
	if err != nil {
		RecordDecodeRequest(m.Name, strategy, errorStatus(err))
		logger.Warn("Decode failed", zap.Error(err))
		return nil, err
	}

	RecordDecodeRequest(m.Name, strategy, "ok")
	RecordDecodeDuration(m.Name, strategy, time.Since(start).Seconds())
	RecordTokenGeneration(m.Name, strategy, len(result.Best().IDs))
	if result.Exhausted {
		RecordBudgetExhausted(m.Name, string(result.StopReason))
	}

	logger.Debug("Decoded input",
		zap.String("input", req.Input.Key),
		zap.Int("steps", result.Steps),
		zap.Bool("exhausted", result.Exhausted),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (s *Service) decode(ctx context.Context, m *LoadedModel, req DecodeRequest) (*decoding.Result, error) {
	if s.cache == nil {
		return m.Engine.Decode(ctx, req.Strategy, req.Input, req.Options...)
	}
	if _, err := decoding.StrategyFor(req.Strategy); err != nil {
		return nil, err
	}
	encoded, err := s.cache.Encode(ctx, m.Name, m.Engine, req.Input)
	if err != nil {
		return nil, err
	}
	return m.Engine.DecodeEncoded(ctx, req.Strategy, encoded, req.Options...)
}

func errorStatus(err error) string {
	var mee *decoding.ModelEvaluationError
	switch {
	case errors.Is(err, decoding.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &mee):
		return "model_error"
	default:
		return "error"
	}
}

// DecodeDocument decodes every page of doc, at most PageParallelism at a
// time, and joins the best sequence of each page with a blank line. A failed
// page fails the whole document.
func (s *Service) DecodeDocument(ctx context.Context, model string, kind decoding.Kind, doc Document, opts ...decoding.Option) (*DocumentResult, error) {
	logger := s.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("model", model),
		zap.String("strategy", string(kind)),
		zap.String("document", doc.ID))

	m, err := s.registry.Acquire(model)
	if err != nil {
		RecordDecodeRequest(model, string(kind), "not_found")
		return nil, err
	}
	defer s.registry.Release(model)

	pages := make([]*decoding.Result, len(doc.Pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.PageParallelism)
	for i, page := range doc.Pages {
		g.Go(func() error {
			res, err := s.decodeWith(gctx, logger.With(zap.Int("page", i)), m, DecodeRequest{
				Model:    model,
				Strategy: kind,
				Input:    page,
				Options:  opts,
			})
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			pages[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	RecordPageDecode(m.Name, len(pages))

	out := &DocumentResult{ID: doc.ID, Pages: pages}
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Best().Text
		out.Exhausted = out.Exhausted || p.Exhausted
	}
	out.Text = strings.Join(texts, "\n\n")

	logger.Info("Decoded document",
		zap.Int("pages", len(pages)),
		zap.Bool("exhausted", out.Exhausted))
	return out, nil
}

// Close releases the cache and every loaded model.
func (s *Service) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return s.registry.Close()
}
