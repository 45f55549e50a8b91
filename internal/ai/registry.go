package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Options selects and authenticates a chat model.
type Options struct {
	Model   string
	BaseURL string
	APIKey  string
}

type ModelFactory func(ctx context.Context, opts Options) (llms.Model, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ModelFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ModelFactory)}
}

func (r *Registry) Register(name string, f ModelFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, opts Options) (llms.Model, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(ctx, opts)
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
