package source

import (
	"github.com/rotisserie/eris"

	"github.com/cfptrack/cfptrack/internal/config"
	"github.com/cfptrack/cfptrack/internal/fetcher"
)

// Registry holds the configured providers in configuration order. The order
// matters: it decides which uncached provider a refresh tick picks first.
type Registry struct {
	ordered []Source
	byName  map[string]Source
}

// NewRegistry builds a registry from the configured source list. Disabled
// sources are left out entirely. Unknown source names are an error so a typo
// in the config fails fast instead of silently dropping a provider.
func NewRegistry(cfgs []config.SourceConfig, f fetcher.Fetcher) (*Registry, error) {
	r := &Registry{byName: make(map[string]Source)}
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		src, err := newSource(cfg, f)
		if err != nil {
			return nil, err
		}
		r.Register(src)
	}
	return r, nil
}

func newSource(cfg config.SourceConfig, f fetcher.Fetcher) (Source, error) {
	switch cfg.Name {
	case NameDevelopersEvents:
		return NewDevelopersEvents(cfg.URL, f), nil
	case NameConfsTech:
		return NewConfsTech(cfg.URL, f), nil
	case NameJoindIn:
		return NewJoindIn(cfg.URL, f), nil
	default:
		return nil, eris.Errorf("source: unknown provider %q", cfg.Name)
	}
}

// Register appends a provider to the registry. Later registrations with the
// same name replace the lookup entry but keep the original position.
func (r *Registry) Register(src Source) {
	if r.byName == nil {
		r.byName = make(map[string]Source)
	}
	if _, ok := r.byName[src.Name()]; !ok {
		r.ordered = append(r.ordered, src)
	}
	r.byName[src.Name()] = src
}

// All returns the providers in configuration order.
func (r *Registry) All() []Source {
	return r.ordered
}

// Names returns the provider names in configuration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, src := range r.ordered {
		names = append(names, src.Name())
	}
	return names
}

// Get returns the provider with the given name, or nil if not registered.
func (r *Registry) Get(name string) Source {
	return r.byName[name]
}
