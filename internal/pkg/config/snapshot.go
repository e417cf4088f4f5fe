package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/router"
	"github.com/tjfontaine/toolcall-gateway/internal/toolcall"
)

// Snapshot is one consistent view of the configuration. It is never
// modified after Build returns.
type Snapshot struct {
	Config *Config
	Routes *router.Table
	// Trigger is regenerated on every build.
	Trigger  string
	LoadedAt time.Time
}

// Build validates cfg and derives the route table and a fresh trigger signal.
func Build(cfg *Config) (*Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	services := make([]router.Service, 0, len(cfg.UpstreamServices))
	for _, svc := range cfg.UpstreamServices {
		format, err := domain.ParseFormat(svc.ServiceType)
		if err != nil {
			return nil, fmt.Errorf("upstream service %s: %w", svc.Name, err)
		}
		services = append(services, router.Service{
			Name:                  svc.Name,
			Type:                  format,
			BaseURL:               strings.TrimRight(svc.BaseURL, "/"),
			APIKey:                svc.APIKey,
			Priority:              svc.Priority,
			InjectFunctionCalling: svc.InjectFunctionCalling,
			IsDefault:             svc.IsDefault,
			Models:                append([]string(nil), svc.Models...),
		})
	}

	routes, err := router.NewTable(services)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Config:   cfg,
		Routes:   routes,
		Trigger:  toolcall.NewTriggerSignal(),
		LoadedAt: time.Now(),
	}, nil
}

// InjectFor reports whether function calling is emulated for svc.
func (s *Snapshot) InjectFor(svc *router.Service) bool {
	if !s.Config.Features.EnableFunctionCalling {
		return false
	}
	if svc != nil && svc.InjectFunctionCalling != nil {
		return *svc.InjectFunctionCalling
	}
	return true
}

// Store publishes the current snapshot. Readers call Load once per request
// and use that snapshot throughout.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store holding snap.
func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	s.current.Store(snap)
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() *Snapshot { return s.current.Load() }

// Swap publishes snap and returns the previous snapshot.
func (s *Store) Swap(snap *Snapshot) *Snapshot { return s.current.Swap(snap) }
