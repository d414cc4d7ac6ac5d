package registry

import (
	"github.com/hivedesk/hivedesk/internal/domain"
)

// Registry is the static connector catalog. Definitions are loaded once at
// process start and never mutated, so lookups need no locking.
type Registry struct {
	definitions map[string]domain.ConnectorDefinition
	order       []string
}

func New(definitions []domain.ConnectorDefinition) *Registry {
	r := &Registry{
		definitions: make(map[string]domain.ConnectorDefinition, len(definitions)),
	}

	for _, def := range definitions {
		if _, exists := r.definitions[def.ID]; exists {
			continue
		}

		r.definitions[def.ID] = def
		r.order = append(r.order, def.ID)
	}

	return r
}

// NewDefault builds the registry from the built-in catalog.
func NewDefault() *Registry {
	return New(DefaultCatalog())
}

func (r *Registry) Get(id string) (domain.ConnectorDefinition, bool) {
	def, ok := r.definitions[id]
	return def, ok
}

func (r *Registry) ListActive() []domain.ConnectorDefinition {
	active := []domain.ConnectorDefinition{}

	for _, id := range r.order {
		def := r.definitions[id]
		if def.Status == domain.ConnectorStatus_Active {
			active = append(active, def)
		}
	}

	return active
}

func (r *Registry) ListByCategory(category domain.ConnectorCategory) []domain.ConnectorDefinition {
	matched := []domain.ConnectorDefinition{}

	for _, id := range r.order {
		def := r.definitions[id]
		if def.Category == category {
			matched = append(matched, def)
		}
	}

	return matched
}
