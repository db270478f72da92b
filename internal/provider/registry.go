package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/iurnickita/freightrate/internal/model"
)

// Factory builds a provider instance for one set of credentials.
type Factory func(creds model.Credentials) (Provider, error)

// Coverage says which requests a provider can quote. Empty Services means
// every service type of the mode.
type Coverage struct {
	Mode     model.Mode
	Services []model.ServiceType
}

func (c Coverage) matches(data model.ShipmentRequestData) bool {
	if c.Mode != data.Mode {
		return false
	}
	if len(c.Services) == 0 {
		return true
	}
	for _, s := range c.Services {
		if s == data.ServiceType {
			return true
		}
	}
	return false
}

// Target is one provider call the aggregator has to make.
type Target struct {
	Code     string
	Provider Provider
	Account  *model.CarrierAccount
	// ошибка создания экземпляра; вызов не выполняется
	Err error
}

func (t Target) Async() bool {
	_, ok := t.Provider.(AsyncProvider)
	return ok
}

type entry struct {
	factory  Factory
	global   model.Credentials
	coverage []Coverage
	enabled  bool
}

// Registry owns the known providers and which of them are enabled.
// It is built once at startup and passed to whoever needs providers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) Register(code string, factory Factory, global model.Credentials, coverage ...Coverage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[code] = &entry{
		factory:  factory,
		global:   global,
		coverage: coverage,
		enabled:  true,
	}
}

func (r *Registry) SetEnabled(code string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, code)
	}
	e.enabled = enabled
	return nil
}

// Enabled returns the codes of enabled providers in stable order.
func (r *Registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var codes []string
	for code, e := range r.entries {
		if e.enabled {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Resolve returns a live provider. Account credentials take precedence over
// the global company credentials.
func (r *Registry) Resolve(code string, account *model.CarrierAccount) (Provider, error) {
	r.mu.RLock()
	e, ok := r.entries[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, code)
	}

	creds := e.global
	if account != nil {
		creds = model.Credentials{
			AccountID:     account.ID,
			AccountNo:     account.AccountNo,
			APIKey:        account.APIKey,
			Secret:        account.Secret,
			CustomerOwned: account.CustomerOwned,
		}
	}
	return e.factory(creds)
}

// Eligible lists the calls for a request: every enabled provider covering its
// mode and, for road requests, the caller's own linked accounts.
func (r *Registry) Eligible(req model.ShipmentRequest, accounts []model.CarrierAccount) []Target {
	var targets []Target
	for _, code := range r.Enabled() {
		if !r.covers(code, req.Data) {
			continue
		}
		p, err := r.Resolve(code, nil)
		targets = append(targets, Target{Code: code, Provider: p, Err: err})
	}

	if req.Data.Mode != model.ModeRoad {
		return targets
	}
	for i := range accounts {
		account := accounts[i]
		if !account.Active || !r.covers(account.ProviderCode, req.Data) {
			continue
		}
		p, err := r.Resolve(account.ProviderCode, &account)
		targets = append(targets, Target{Code: account.ProviderCode, Provider: p, Account: &account, Err: err})
	}
	return targets
}

func (r *Registry) covers(code string, data model.ShipmentRequestData) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[code]
	if !ok || !e.enabled {
		return false
	}
	for _, c := range e.coverage {
		if c.matches(data) {
			return true
		}
	}
	return false
}
