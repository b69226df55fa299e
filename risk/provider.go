package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/onboarding/model"
)

// Assessment is the outcome reported by a risk provider.
type Assessment struct {
	Level      model.RiskLevel
	Score      decimal.Decimal
	Source     string
	Reference  string
	AssessedAt time.Time
}

type Provider interface {
	Name() string
	Assess(ctx context.Context, c *model.Case) (*Assessment, error)
}

// Registry holds the enabled providers loaded from configuration.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider. An empty name selects the first provider by name,
// which is the only one in most deployments.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name != "" {
		p, ok := r.providers[name]
		if !ok {
			return nil, fmt.Errorf("risk provider %s is not configured", name)
		}
		return p, nil
	}
	names := r.namesLocked()
	if len(names) == 0 {
		return nil, fmt.Errorf("no risk provider configured")
	}
	return r.providers[names[0]], nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) LoadProvidersFromConfig(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load risk config: %w", err)
	}
	return r.loadProviders(cfg)
}

func (r *Registry) LoadProvidersFromConfigBytes(data []byte) error {
	cfg, err := LoadConfigFromBytes(data)
	if err != nil {
		return fmt.Errorf("failed to parse risk config: %w", err)
	}
	return r.loadProviders(cfg)
}

func (r *Registry) loadProviders(cfg *Config) error {
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			logrus.Infof("risk provider %s is disabled, skipping", pc.Name)
			continue
		}
		pc.APIKey = expandEnvVar(pc.APIKey)
		pc.APISecret = expandEnvVar(pc.APISecret)

		if err := validateProviderConfig(pc); err != nil {
			logrus.Warnf("invalid config for risk provider %s: %v", pc.Name, err)
			continue
		}
		r.Register(newConfigurableProvider(pc, nil))
		logrus.Infof("loaded risk provider from config: %s", pc.Name)
	}
	return nil
}
