package host

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds the known UI registrations by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds or replaces a registration after validating it.
func (r *Registry) Register(reg Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[reg.UIName] = reg
	return nil
}

// Get returns the registration with the given name.
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// Names returns all registered UI names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// registryFile is the on-disk YAML shape of a registry.
type registryFile struct {
	UIs []Registration `yaml:"uis" json:"uis"`
}

// LoadRegistryFile reads a YAML registry file of the form:
//
//	uis:
//	  - ui_name: weather
//	    url_template: "https://ui.example.com/weather?city={city}"
//	    permissions:
//	      optional_scopes: [read:location]
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("host: read registry file: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("host: parse registry file %s: %w", path, err)
	}
	r := NewRegistry()
	for _, reg := range file.UIs {
		if err := r.Register(reg); err != nil {
			return nil, fmt.Errorf("host: registry file %s: %w", path, err)
		}
	}
	return r, nil
}
