package timeline

import (
	"context"
	"log/slog"
	"sync"

	"narrasync/internal/config"
	"narrasync/internal/logging"
	"narrasync/internal/projectstore"
	"narrasync/internal/regen"
	"narrasync/internal/script"
	"narrasync/internal/services"
)

// Manager keeps one loaded engine per project and persists through the
// project store.
type Manager struct {
	ctx       context.Context
	cfg       *config.Config
	store     *projectstore.Store
	generator regen.Generator
	logger    *slog.Logger
	extra     []Option

	mu      sync.Mutex
	engines map[string]*Engine
	hooks   []func(*Engine, regen.Outcome)
	closed  bool
}

// NewManager constructs a Manager. Engines it loads run regeneration under
// ctx.
func NewManager(ctx context.Context, cfg *config.Config, store *projectstore.Store, generator regen.Generator, logger *slog.Logger, opts ...Option) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		ctx:       ctx,
		cfg:       cfg,
		store:     store,
		generator: generator,
		logger:    logger,
		extra:     opts,
		engines:   make(map[string]*Engine),
	}
}

// OnRegenerated registers fn on every engine the manager loads from now on.
func (m *Manager) OnRegenerated(fn func(*Engine, regen.Outcome)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

func (m *Manager) attachHooks(engine *Engine) {
	m.mu.Lock()
	hooks := append([]func(*Engine, regen.Outcome){}, m.hooks...)
	m.mu.Unlock()
	for _, hook := range hooks {
		engine.OnRegenerated(func(outcome regen.Outcome) { hook(engine, outcome) })
	}
}

func (m *Manager) engineOptions() []Option {
	opts := []Option{
		WithSettings(SettingsFromConfig(m.cfg)),
		WithPersister(m.store),
		WithLogger(m.logger),
	}
	if m.cfg != nil {
		opts = append(opts, WithMaxConcurrent(m.cfg.Regeneration.MaxConcurrent))
	}
	return append(opts, m.extra...)
}

// Create stores a new project, optionally seeded from a script breakdown,
// and returns its loaded engine.
func (m *Manager) Create(ctx context.Context, title string, breakdown *script.Breakdown) (*Engine, error) {
	if title == "" && breakdown != nil {
		title = breakdown.Title
	}
	empty, err := Snapshot{Title: title}.Encode()
	if err != nil {
		return nil, err
	}
	project, err := m.store.Create(ctx, title, empty, projectstore.Summary{})
	if err != nil {
		return nil, err
	}

	engine := New(m.ctx, project.ID, project.Title, m.generator, m.engineOptions()...)
	engine.revision = project.Revision
	m.attachHooks(engine)
	if breakdown != nil {
		if _, err := engine.ImportScript(ctx, *breakdown); err != nil {
			engine.Close()
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		engine.Close()
		return nil, services.Wrap(services.ErrConfiguration, component, "create", "manager closed", nil)
	}
	m.engines[project.ID] = engine
	m.logger.Info("project created",
		logging.String(logging.FieldProjectID, project.ID),
		logging.String("title", project.Title),
		logging.Int("segments", len(engine.Segments())),
	)
	return engine, nil
}

// Open returns the loaded engine for id, restoring it from the store on
// first use.
func (m *Manager) Open(ctx context.Context, id string) (*Engine, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, services.Wrap(services.ErrConfiguration, component, "open", "manager closed", nil)
	}
	if engine, ok := m.engines[id]; ok {
		m.mu.Unlock()
		return engine, nil
	}
	m.mu.Unlock()

	project, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, services.Wrap(services.ErrNotFound, component, "open", "project "+id, nil)
	}
	engine := New(m.ctx, project.ID, project.Title, m.generator, m.engineOptions()...)
	if err := engine.Load(project.Snapshot); err != nil {
		engine.Close()
		return nil, err
	}
	engine.revision = project.Revision
	m.attachHooks(engine)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.engines[id]; ok {
		engine.Close()
		return existing, nil
	}
	m.engines[id] = engine
	return engine, nil
}

// List returns stored projects, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]*projectstore.Project, error) {
	return m.store.List(ctx)
}

// Delete unloads and removes a project.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	engine := m.engines[id]
	delete(m.engines, id)
	m.mu.Unlock()
	if engine != nil {
		engine.Close()
	}

	removed, err := m.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return services.Wrap(services.ErrNotFound, component, "delete", "project "+id, nil)
	}
	m.logger.Info("project deleted", logging.String(logging.FieldProjectID, id))
	return nil
}

// Rename changes a project title in the store and the loaded engine.
func (m *Manager) Rename(ctx context.Context, id, title string) error {
	engine, err := m.Open(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.Rename(ctx, id, title); err != nil {
		return err
	}
	engine.mu.Lock()
	engine.title = title
	engine.mu.Unlock()
	return nil
}

// Close stops every loaded engine.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	engines := make([]*Engine, 0, len(m.engines))
	for _, engine := range m.engines {
		engines = append(engines, engine)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, engine := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			e.Close()
		}(engine)
	}
	wg.Wait()
}
