// Copyright 2025 Kadir Pekel
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


// Package runtime assembles models, collaborators, persistence, exporters
// and telemetry into a refine.Controller from a config.Config.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kadirpekel/refinery/pkg/config"
	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/llmagent"
	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/observability"
	"github.com/kadirpekel/refinery/pkg/refine"
	"github.com/kadirpekel/refinery/pkg/store"
)

// Options configures New.
type Options struct {
	// Config is used as-is when set; otherwise ConfigFile is loaded.
	Config     *config.Config
	ConfigFile string

	// Approver answers the gate when gate.approver is terminal.
	Approver llmagent.Approver

	// LLMFactory overrides model construction. Default: DefaultLLMFactory
	LLMFactory LLMFactory

	// TracerOptions are passed to the tracer, mainly to capture spans in tests.
	TracerOptions []observability.TracerOption

	Logger *slog.Logger
}

// Runtime owns everything built from one configuration. Reload rebuilds
// the controller from a new configuration while keeping the store,
// exporters and telemetry.
type Runtime struct {
	opts     Options
	store    store.Store
	files    export.Exporters
	obs      *observability.Manager
	logger   *slog.Logger
	observer refine.Observer

	mu         sync.RWMutex
	config     *config.Config
	controller *refine.Controller
	// models of every generation built; closed together by Close.
	models []model.LLM
}

// New builds a Runtime.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		if opts.ConfigFile == "" {
			return nil, errors.New("config or config file is required")
		}
		loaded, loader, err := config.LoadConfigFile(ctx, opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		_ = loader.Close()
		cfg = loaded
	}
	if opts.LLMFactory == nil {
		opts.LLMFactory = DefaultLLMFactory
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Runtime{opts: opts, logger: opts.Logger}
	if err := r.init(ctx, cfg); err != nil {
		return nil, errors.Join(err, r.Close())
	}
	return r, nil
}

func (r *Runtime) init(ctx context.Context, cfg *config.Config) error {
	r.obs = observability.NewManager(cfg.Observability)
	if err := r.obs.Initialize(ctx, r.opts.TracerOptions...); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	if r.obs.Tracer() != nil || r.obs.Metrics() != nil {
		r.observer = r.obs.Observer()
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	r.store = st

	if r.files, err = fileExporters(cfg.Export, r.logger); err != nil {
		return err
	}

	controller, models, err := r.build(ctx, cfg)
	if err != nil {
		return err
	}
	r.config = cfg
	r.controller = controller
	r.models = models
	return nil
}

// build creates the models and the controller of one configuration.
func (r *Runtime) build(ctx context.Context, cfg *config.Config) (_ *refine.Controller, built []model.LLM, err error) {
	defer func() {
		if err != nil {
			for _, m := range built {
				_ = m.Close()
			}
			built = nil
		}
	}()

	b := &builder{
		cfg:      cfg,
		models:   make(map[string]model.LLM, len(cfg.Models)),
		approver: r.opts.Approver,
		logger:   r.logger,
	}
	for _, name := range cfg.ModelNames() {
		llm, err := r.opts.LLMFactory(ctx, cfg.Models[name])
		if err != nil {
			return nil, built, fmt.Errorf("model %s: %w", name, err)
		}
		b.models[name] = llm
		built = append(built, llm)
	}

	gen, err := b.generator()
	if err != nil {
		return nil, built, fmt.Errorf("generator: %w", err)
	}
	eval, err := b.evaluation()
	if err != nil {
		return nil, built, err
	}

	opts := []refine.Option{refine.WithLogger(r.logger)}
	if r.observer != nil {
		opts = append(opts, refine.WithObserver(r.observer))
	}
	controller, err := refine.New(gen, eval, cfg.Policy.Policy(), opts...)
	if err != nil {
		return nil, built, err
	}
	return controller, built, nil
}

// Reload rebuilds the controller from cfg. The store, exporters and
// telemetry of the first configuration stay in place. On error the
// current controller is kept.
func (r *Runtime) Reload(ctx context.Context, cfg *config.Config) (*refine.Controller, error) {
	controller, models, err := r.build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.config = cfg
	r.controller = controller
	r.models = append(r.models, models...)
	r.mu.Unlock()

	r.logger.Info("Runtime reloaded", "name", cfg.Name,
		"threshold", controller.Policy().QualityThreshold,
		"max_iterations", controller.Policy().MaxIterations)
	return controller, nil
}

// Controller returns the current controller.
func (r *Runtime) Controller() *refine.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controller
}

func (r *Runtime) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Store returns the configured store, or nil when none is configured.
func (r *Runtime) Store() store.Store {
	return r.store
}

func (r *Runtime) Observability() *observability.Manager {
	return r.obs
}

// FileExporter returns the configured on-disk exporters.
func (r *Runtime) FileExporter() export.Exporter {
	return r.files
}

// Exporter returns the on-disk exporters followed by the store.
func (r *Runtime) Exporter() export.Exporter {
	all := append(export.Exporters{}, r.files...)
	if r.store != nil {
		all = append(all, store.Exporter(r.store))
	}
	return all
}

// Close releases models, the store and telemetry.
func (r *Runtime) Close() error {
	var errs []error

	r.mu.Lock()
	models := r.models
	r.models = nil
	r.mu.Unlock()

	for _, m := range models {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", m.Name(), err))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		r.store = nil
	}
	if r.obs != nil {
		ctx := context.Background()
		if err := r.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
		r.obs = nil
	}

	if len(errs) > 0 {
		r.logger.Warn("Runtime cleanup error", "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}
