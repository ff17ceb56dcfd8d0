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
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pavviaz/im2latex/lib/backends"
	"github.com/pavviaz/im2latex/lib/decoding"
	"github.com/pavviaz/im2latex/lib/tablemodel"
	"github.com/pavviaz/im2latex/lib/tokenizer"
)

// ErrModelNotFound is returned for names the registry does not know.
var ErrModelNotFound = errors.New("model not found")

// ModelInfo holds metadata about a discovered model (not loaded yet)
type ModelInfo struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// LoadedModel is a model ready to decode.
type LoadedModel struct {
	Name   string
	Model  backends.SequenceModel
	Engine *decoding.Engine
}

// Close releases the model's resources.
func (m *LoadedModel) Close() error {
	if closer, ok := m.Model.(backends.Closer); ok {
		return closer.Close()
	}
	return nil
}

// LoaderFunc loads the bundle at path.
type LoaderFunc func(path string) (backends.SequenceModel, tokenizer.Tokenizer, error)

// LoadTableModel is the default LoaderFunc.
func LoadTableModel(path string) (backends.SequenceModel, tokenizer.Tokenizer, error) {
	m, tok, err := tablemodel.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return m, tok, nil
}

// RegistryConfig configures the model registry
type RegistryConfig struct {
	ModelsDir       string
	KeepAlive       time.Duration // How long to keep models loaded (0 = forever)
	MaxLoadedModels uint64        // Max models in memory (0 = unlimited)
	Decoding        decoding.Config
	Loader          LoaderFunc // nil uses LoadTableModel
}

// ModelRegistry discovers model bundles on disk, loads them on first use and
// unloads them after KeepAlive. Models in use are pinned with Acquire.
type ModelRegistry struct {
	modelsDir string
	decoding  decoding.Config
	loader    LoaderFunc
	logger    *zap.Logger

	// Model discovery (paths only, not loaded)
	discovered map[string]*ModelInfo
	// Models registered in memory; never evicted
	static map[string]*LoadedModel
	mu     sync.RWMutex

	cache   *ttlcache.Cache[string, *LoadedModel]
	loading singleflight.Group

	// Reference counting to prevent eviction during active use
	refCounts   map[string]int
	refCountsMu sync.Mutex

	keepAlive       time.Duration
	maxLoadedModels uint64

	closeOnce sync.Once
	closeErr  error
}

// NewModelRegistry creates a lazy-loading model registry
func NewModelRegistry(config RegistryConfig, logger *zap.Logger) (*ModelRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Decoding.Validate(); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = ttlcache.NoTTL
	}
	loader := config.Loader
	if loader == nil {
		loader = LoadTableModel
	}

	r := &ModelRegistry{
		modelsDir:       config.ModelsDir,
		decoding:        config.Decoding,
		loader:          loader,
		logger:          logger,
		discovered:      make(map[string]*ModelInfo),
		static:          make(map[string]*LoadedModel),
		refCounts:       make(map[string]int),
		keepAlive:       keepAlive,
		maxLoadedModels: config.MaxLoadedModels,
	}

	cacheOpts := []ttlcache.Option[string, *LoadedModel]{
		ttlcache.WithTTL[string, *LoadedModel](keepAlive),
	}
	if config.MaxLoadedModels > 0 {
		cacheOpts = append(cacheOpts,
			ttlcache.WithCapacity[string, *LoadedModel](config.MaxLoadedModels))
	}
	r.cache = ttlcache.New(cacheOpts...)
	r.cache.OnEviction(r.onEviction)

	go r.cache.Start()

	if err := r.discoverModels(); err != nil {
		r.cache.Stop()
		return nil, err
	}

	logger.Info("Model registry initialized",
		zap.Int("models_discovered", len(r.discovered)),
		zap.Duration("keep_alive", keepAlive),
		zap.Uint64("max_loaded_models", config.MaxLoadedModels))

	return r, nil
}

func (r *ModelRegistry) onEviction(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *LoadedModel]) {
	// Close() handles manual deletion synchronously
	if reason == ttlcache.EvictionReasonDeleted {
		return
	}

	reasonStr := "unknown"
	switch reason {
	case ttlcache.EvictionReasonExpired:
		reasonStr = "expired (keep-alive timeout)"
	case ttlcache.EvictionReasonCapacityReached:
		reasonStr = "capacity reached (LRU eviction)"
	}

	// Hold lock through check-and-action to prevent race with Release()
	r.refCountsMu.Lock()
	if refCount := r.refCounts[item.Key()]; refCount > 0 {
		r.cache.Set(item.Key(), item.Value(), r.keepAlive)
		r.refCountsMu.Unlock()
		r.logger.Warn("Preventing eviction of model with active references",
			zap.String("model", item.Key()),
			zap.Int("refCount", refCount),
			zap.String("reason", reasonStr))
		return
	}
	r.refCountsMu.Unlock()

	r.logger.Info("Evicting model from cache",
		zap.String("model", item.Key()),
		zap.String("reason", reasonStr))
	if err := item.Value().Close(); err != nil {
		r.logger.Warn("Error closing evicted model",
			zap.String("model", item.Key()),
			zap.Error(err))
	}
}

// discoverModels finds bundles at <dir>/<name> and <dir>/<owner>/<name>
func (r *ModelRegistry) discoverModels() error {
	if r.modelsDir == "" {
		r.logger.Info("No models directory configured")
		return nil
	}
	if _, err := os.Stat(r.modelsDir); os.IsNotExist(err) {
		r.logger.Warn("Models directory does not exist",
			zap.String("dir", r.modelsDir))
		return nil
	}

	entries, err := os.ReadDir(r.modelsDir)
	if err != nil {
		return fmt.Errorf("discovering models: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.modelsDir, entry.Name())
		if tablemodel.IsBundle(dir) {
			r.addDiscovered(entry.Name(), dir)
			continue
		}

		// owner/model layout
		children, err := os.ReadDir(dir)
		if err != nil {
			r.logger.Debug("Skipping unreadable directory",
				zap.String("dir", dir),
				zap.Error(err))
			continue
		}
		for _, child := range children {
			childDir := filepath.Join(dir, child.Name())
			if child.IsDir() && tablemodel.IsBundle(childDir) {
				r.addDiscovered(entry.Name()+"/"+child.Name(), childDir)
			}
		}
	}
	return nil
}

func (r *ModelRegistry) addDiscovered(name, path string) {
	r.logger.Info("Discovered model (not loaded)",
		zap.String("name", name),
		zap.String("path", path))
	r.discovered[name] = &ModelInfo{Name: name, Path: path}
}

// Register adds an in-memory model. It is never evicted.
func (r *ModelRegistry) Register(name string, model backends.SequenceModel, tok tokenizer.Tokenizer) error {
	engine, err := decoding.NewEngine(model, tok, r.decoding, r.logger.Named(name))
	if err != nil {
		return fmt.Errorf("registering model %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.static[name]; ok {
		return fmt.Errorf("model %s already registered", name)
	}
	r.static[name] = &LoadedModel{Name: name, Model: model, Engine: engine}
	return nil
}

// Get returns a model by name, loading it if necessary. The model may be
// evicted at any time; long-running callers use Acquire.
func (r *ModelRegistry) Get(name string) (*LoadedModel, error) {
	r.mu.RLock()
	if m, ok := r.static[name]; ok {
		r.mu.RUnlock()
		return m, nil
	}
	info, ok := r.discovered[name]
	r.mu.RUnlock()

	if item := r.cache.Get(name); item != nil {
		r.logger.Debug("Model cache hit", zap.String("model", name))
		return item.Value(), nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}

	v, err, _ := r.loading.Do(name, func() (any, error) {
		if item := r.cache.Get(name); item != nil {
			return item.Value(), nil
		}
		return r.load(info)
	})
	if err != nil {
		return nil, err
	}
	return v.(*LoadedModel), nil
}

func (r *ModelRegistry) load(info *ModelInfo) (*LoadedModel, error) {
	r.logger.Info("Loading model on demand",
		zap.String("model", info.Name),
		zap.String("path", info.Path))

	start := time.Now()
	model, tok, err := r.loader(info.Path)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", info.Name, err)
	}
	engine, err := decoding.NewEngine(model, tok, r.decoding, r.logger.Named(info.Name))
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", info.Name, err)
	}
	RecordModelLoadDuration(info.Name, time.Since(start).Seconds())

	loaded := &LoadedModel{Name: info.Name, Model: model, Engine: engine}
	r.cache.Set(info.Name, loaded, r.keepAlive)

	r.logger.Info("Successfully loaded model",
		zap.String("model", info.Name),
		zap.Duration("duration", time.Since(start)))
	return loaded, nil
}

// Acquire returns a model by name and increments its reference count.
// The caller MUST call Release() when done.
func (r *ModelRegistry) Acquire(name string) (*LoadedModel, error) {
	m, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	r.refCountsMu.Lock()
	r.refCounts[name]++
	count := r.refCounts[name]
	r.refCountsMu.Unlock()

	r.logger.Debug("Acquired model",
		zap.String("model", name),
		zap.Int("refCount", count))
	return m, nil
}

// Release decrements the reference count for a model.
func (r *ModelRegistry) Release(name string) {
	r.refCountsMu.Lock()
	if r.refCounts[name] > 0 {
		r.refCounts[name]--
	}
	count := r.refCounts[name]
	r.refCountsMu.Unlock()

	r.logger.Debug("Released model",
		zap.String("model", name),
		zap.Int("refCount", count))
}

// List returns all available model names, sorted.
func (r *ModelRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.discovered)+len(r.static))
	for name := range r.discovered {
		names = append(names, name)
	}
	for name := range r.static {
		if _, dup := r.discovered[name]; !dup {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Info returns discovery metadata for name.
func (r *ModelRegistry) Info(name string) (ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.discovered[name]; ok {
		return *info, true
	}
	if _, ok := r.static[name]; ok {
		return ModelInfo{Name: name}, true
	}
	return ModelInfo{}, false
}

// ListLoaded returns the names of discovered models currently in memory
func (r *ModelRegistry) ListLoaded() []string {
	keys := r.cache.Keys()
	slices.Sort(keys)
	return keys
}

// IsLoaded returns whether a discovered model is currently in memory
func (r *ModelRegistry) IsLoaded(name string) bool {
	return r.cache.Has(name)
}

// Preload loads the named models up front.
func (r *ModelRegistry) Preload(names []string) error {
	if len(names) == 0 {
		return nil
	}
	r.logger.Info("Preloading models", zap.Strings("models", names))

	var loaded, failed int
	for _, name := range names {
		if _, err := r.Get(name); err != nil {
			r.logger.Warn("Failed to preload model",
				zap.String("model", name),
				zap.Error(err))
			failed++
			continue
		}
		loaded++
	}

	r.logger.Info("Preloading complete",
		zap.Int("loaded", loaded),
		zap.Int("failed", failed))
	if failed > 0 && loaded == 0 {
		return fmt.Errorf("all %d models failed to preload", failed)
	}
	return nil
}

// Close stops the cache and closes every loaded model. It is safe to call
// more than once.
func (r *ModelRegistry) Close() error {
	r.closeOnce.Do(func() {
		items := r.cache.Items()
		r.cache.DeleteAll()
		r.cache.Stop()

		var errs []error
		for name, item := range items {
			if err := item.Value().Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
			}
		}

		r.mu.Lock()
		for name, m := range r.static {
			if err := m.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
			}
		}
		r.static = map[string]*LoadedModel{}
		r.mu.Unlock()

		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
