package session

import (
	"context"
	"sort"
	"sync"

	"github.com/felipe/zegate/internal/config"
	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/service/auth"
	"github.com/felipe/zegate/internal/service/webhook"
	"github.com/felipe/zegate/internal/wa"
)

// Registry mantém os supervisores vivos indexados por sessão
type Registry struct {
	factory wa.Factory
	store   *auth.Store
	engine  *webhook.Engine
	filter  *webhook.Filter
	cfg     *config.Config
	logger  *logger.ComponentLogger

	mu          sync.RWMutex
	supervisors map[string]*Supervisor
}

func NewRegistry(factory wa.Factory, store *auth.Store, engine *webhook.Engine, filter *webhook.Filter, cfg *config.Config) *Registry {
	return &Registry{
		factory:     factory,
		store:       store,
		engine:      engine,
		filter:      filter,
		cfg:         cfg,
		logger:      logger.ForComponent("session"),
		supervisors: make(map[string]*Supervisor),
	}
}

// Ensure cria o supervisor da sessão caso não exista e o coloca para
// rodar. Chamadas repetidas com o mesmo id retornam o supervisor vivo.
func (r *Registry) Ensure(ctx context.Context, id string) (*Supervisor, error) {
	if !ValidSessionID(id) {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	if sup, ok := r.supervisors[id]; ok {
		r.mu.Unlock()
		return sup, nil
	}
	sup := newSupervisor(id, r.factory, r.store, r.engine, r.filter, r.cfg)
	r.supervisors[id] = sup
	r.mu.Unlock()

	if err := sup.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.supervisors, id)
		r.mu.Unlock()
		sup.Shutdown()
		return nil, err
	}
	return sup, nil
}

// Get retorna o supervisor da sessão ou ErrSessionNotFound
func (r *Registry) Get(id string) (*Supervisor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sup, ok := r.supervisors[id]; ok {
		return sup, nil
	}
	return nil, ErrSessionNotFound
}

// List retorna um retrato de todas as sessões, ordenado por id
func (r *Registry) List() []Info {
	r.mu.RLock()
	sups := make([]*Supervisor, 0, len(r.supervisors))
	for _, sup := range r.supervisors {
		sups = append(sups, sup)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sups))
	for _, sup := range sups {
		infos = append(infos, sup.Session().Snapshot())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count retorna quantas sessões estão registradas
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.supervisors)
}

func (r *Registry) Restart(ctx context.Context, id string) error {
	sup, err := r.Get(id)
	if err != nil {
		return err
	}
	return sup.Restart(ctx)
}

// Logout desautentica a sessão e a remove do registro
func (r *Registry) Logout(ctx context.Context, id string) error {
	sup, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := sup.Logout(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.supervisors, id)
	r.mu.Unlock()
	return nil
}

func (r *Registry) SendText(ctx context.Context, id, to, text string) (string, error) {
	sup, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return sup.SendText(ctx, to, text)
}

func (r *Registry) PairPhone(ctx context.Context, id, phone string) (string, error) {
	sup, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return sup.PairPhone(ctx, phone)
}

// Shutdown encerra todas as sessões em paralelo, respeitando o prazo
// do contexto
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sups := make([]*Supervisor, 0, len(r.supervisors))
	for _, sup := range r.supervisors {
		sups = append(sups, sup)
	}
	r.supervisors = make(map[string]*Supervisor)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sup := range sups {
		wg.Add(1)
		go func(sup *Supervisor) {
			defer wg.Done()
			sup.Shutdown()
		}(sup)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Int("count", len(sups)).Msg("All sessions stopped")
	case <-ctx.Done():
		r.logger.Warn().Msg("Shutdown deadline reached before all sessions stopped")
	}
}
