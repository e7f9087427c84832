// SPDX-License-Identifier: Apache-2.0

// Package endpoints loads the named subscriber endpoints that published
// events are routed to.
package endpoints

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/adiadia/webhook-runtime/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config mirrors endpoints.yaml.
type Config struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

type EndpointConfig struct {
	Name       string   `yaml:"name"`
	URL        string   `yaml:"url"`
	EventTypes []string `yaml:"event_types"`
}

// Endpoint is a resolved subscriber. An empty URL means the subscriber exists
// but has no webhook configured.
type Endpoint struct {
	Name       string
	URL        string
	EventTypes []domain.EventType
}

func (e Endpoint) Configured() bool {
	return e.URL != ""
}

// Accepts reports whether the endpoint subscribes to eventType. No allow-list
// means every registered type.
func (e Endpoint) Accepts(eventType domain.EventType) bool {
	if len(e.EventTypes) == 0 {
		return true
	}
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

type Registry struct {
	endpoints map[string]Endpoint
}

func NewRegistry(list ...Endpoint) *Registry {
	r := &Registry{endpoints: make(map[string]Endpoint, len(list))}
	for _, ep := range list {
		r.endpoints[ep.Name] = ep
	}
	return r
}

// Load reads a registry from path. An empty path yields an empty registry.
func Load(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewRegistry(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading endpoints file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing endpoints YAML: %w", err)
	}

	r := NewRegistry()
	for i, ec := range cfg.Endpoints {
		name := strings.TrimSpace(ec.Name)
		if name == "" {
			return nil, fmt.Errorf("endpoint %d: name is required", i)
		}
		if _, dup := r.endpoints[name]; dup {
			return nil, fmt.Errorf("endpoint %q: duplicate name", name)
		}

		ep := Endpoint{Name: name, URL: strings.TrimSpace(ec.URL)}
		if ep.URL != "" {
			if err := domain.ValidateDestination(ep.URL); err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", name, err)
			}
		}
		for _, raw := range ec.EventTypes {
			eventType, err := domain.ParseEventType(raw)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", name, err)
			}
			ep.EventTypes = append(ep.EventTypes, eventType)
		}

		r.endpoints[name] = ep
	}

	return r, nil
}

func (r *Registry) Lookup(name string) (Endpoint, error) {
	ep, ok := r.endpoints[strings.TrimSpace(name)]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", domain.ErrEndpointNotFound, name)
	}
	return ep, nil
}

func (r *Registry) Len() int {
	return len(r.endpoints)
}

// All returns the endpoints sorted by name.
func (r *Registry) All() []Endpoint {
	list := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		list = append(list, ep)
	}
	slices.SortFunc(list, func(a, b Endpoint) int {
		return strings.Compare(a.Name, b.Name)
	})
	return list
}
