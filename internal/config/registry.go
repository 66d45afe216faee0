package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aldervale/voicebridge/pkg/capture"
	"github.com/aldervale/voicebridge/pkg/provider/avatar"
	"github.com/aldervale/voicebridge/pkg/provider/convai"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	conversational map[string]func(ProviderEntry) (convai.Provider, error)
	avatar         map[string]func(ProviderEntry) (avatar.Provider, error)
	capture        map[string]func(ProviderEntry) (capture.Platform, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		conversational: make(map[string]func(ProviderEntry) (convai.Provider, error)),
		avatar:         make(map[string]func(ProviderEntry) (avatar.Provider, error)),
		capture:        make(map[string]func(ProviderEntry) (capture.Platform, error)),
	}
}

// RegisterConversational registers a conversational provider factory under
// name. Subsequent calls with the same name overwrite the previous
// registration.
func (r *Registry) RegisterConversational(name string, factory func(ProviderEntry) (convai.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversational[name] = factory
}

// RegisterAvatar registers an avatar provider factory under name.
func (r *Registry) RegisterAvatar(name string, factory func(ProviderEntry) (avatar.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avatar[name] = factory
}

// RegisterCapture registers a capture platform factory under name.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (capture.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// CreateConversational instantiates a conversational provider using the
// factory registered under entry.Name. Returns [ErrProviderNotRegistered]
// if no factory has been registered for that name.
func (r *Registry) CreateConversational(entry ProviderEntry) (convai.Provider, error) {
	r.mu.RLock()
	factory, ok := r.conversational[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: conversational/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAvatar instantiates an avatar provider using the factory registered
// under entry.Name.
func (r *Registry) CreateAvatar(entry ProviderEntry) (avatar.Provider, error) {
	r.mu.RLock()
	factory, ok := r.avatar[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: avatar/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates a capture platform using the factory registered
// under entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry) (capture.Platform, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
