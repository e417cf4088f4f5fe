// Package router resolves client-visible model names to ordered upstream
// candidates.
package router

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// Service is one configured upstream.
type Service struct {
	Name     string
	Type     domain.Format
	BaseURL  string
	APIKey   string
	Priority int
	// InjectFunctionCalling overrides the global function-calling switch for
	// this service. Nil inherits it.
	InjectFunctionCalling *bool
	IsDefault             bool
	// Models lists the route keys served, either "model" or "alias:model".
	Models []string
}

// Candidate is one upstream able to serve a request and the model name to
// send it.
type Candidate struct {
	Service *Service
	Model   string
}

// Step names the resolution rule that matched.
type Step string

const (
	StepExact       Step = "exact"
	StepAlias       Step = "alias"
	StepPassthrough Step = "passthrough"
	StepDefault     Step = "default"
)

// Resolution is the outcome of Resolve.
type Resolution struct {
	Candidates []Candidate
	Step       Step
}

// Model returns the upstream model of the first candidate.
func (r Resolution) Model() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].Model
}

// ErrNoServices is returned when a table is built without services.
var ErrNoServices = errors.New("no upstream services configured")

// Table is an immutable route table built from the service list.
type Table struct {
	services []*Service
	def      *Service
	// routes maps a route key to its candidates.
	routes map[string][]Candidate
	// aliases maps an alias to the route keys declared under it.
	aliases map[string][]string
	// keys holds route keys in declaration order.
	keys []string
}

// NewTable builds the route and alias tables. The default service is the one
// flagged IsDefault, or the first declared service.
func NewTable(services []Service) (*Table, error) {
	if len(services) == 0 {
		return nil, ErrNoServices
	}

	t := &Table{
		routes:  make(map[string][]Candidate),
		aliases: make(map[string][]string),
	}
	for i := range services {
		svc := &services[i]
		t.services = append(t.services, svc)
		if svc.IsDefault && t.def == nil {
			t.def = svc
		}
		for _, key := range svc.Models {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			model := key
			if alias, upstream, ok := strings.Cut(key, ":"); ok && alias != "" && upstream != "" {
				model = upstream
				if !slices.Contains(t.aliases[alias], key) {
					t.aliases[alias] = append(t.aliases[alias], key)
				}
			}
			if _, seen := t.routes[key]; !seen {
				t.keys = append(t.keys, key)
			}
			t.routes[key] = append(t.routes[key], Candidate{Service: svc, Model: model})
		}
	}
	if t.def == nil {
		t.def = t.services[0]
	}

	for key := range t.routes {
		byPriority(t.routes[key])
	}
	return t, nil
}

// Resolve returns the ordered candidates for model:
//
//  1. an exact route key;
//  2. an alias, either bare ("smart") or prefixed ("smart:model"), where the
//     prefixed form sends the part after the first colon upstream;
//  3. with passthrough, the default service addressed with the model as is;
//  4. the default service with the model unchanged.
//
// Candidates are sorted by ascending priority; ties keep declaration order.
// Steps 3 and 4 yield the same single candidate and differ only in Step.
func (t *Table) Resolve(model string, passthrough bool) Resolution {
	if cands, ok := t.routes[model]; ok {
		return Resolution{Candidates: slices.Clone(cands), Step: StepExact}
	}

	if cands := t.resolveAlias(model); len(cands) > 0 {
		return Resolution{Candidates: cands, Step: StepAlias}
	}

	if passthrough {
		return Resolution{Candidates: []Candidate{{Service: t.def, Model: model}}, Step: StepPassthrough}
	}

	return Resolution{Candidates: []Candidate{{Service: t.def, Model: model}}, Step: StepDefault}
}

func (t *Table) resolveAlias(model string) []Candidate {
	alias, upstream, prefixed := strings.Cut(model, ":")
	keys, ok := t.aliases[alias]
	if !ok {
		return nil
	}

	var cands []Candidate
	seen := make(map[*Service]bool)
	for _, key := range keys {
		for _, c := range t.routes[key] {
			if seen[c.Service] {
				continue
			}
			seen[c.Service] = true
			if prefixed && upstream != "" {
				c.Model = upstream
			}
			cands = append(cands, c)
		}
	}
	byPriority(cands)
	return cands
}

// Default returns the default service.
func (t *Table) Default() *Service { return t.def }

// Services returns the services in declaration order.
func (t *Table) Services() []*Service { return slices.Clone(t.services) }

// Service returns the service named name.
func (t *Table) Service(name string) (*Service, bool) {
	for _, svc := range t.services {
		if svc.Name == name {
			return svc, true
		}
	}
	return nil, false
}

// Route is one route key and its candidates.
type Route struct {
	Key        string
	Candidates []Candidate
}

// Routes returns every route key with its candidates, in declaration order.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.keys))
	for _, key := range t.keys {
		out = append(out, Route{Key: key, Candidates: slices.Clone(t.routes[key])})
	}
	return out
}

// Aliases returns the configured aliases, sorted.
func (t *Table) Aliases() []string {
	out := make([]string, 0, len(t.aliases))
	for alias := range t.aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// VisibleModels returns the model ids advertised to clients: plain route keys
// and aliases, sorted and de-duplicated.
func (t *Table) VisibleModels() []string {
	var out []string
	for _, key := range t.keys {
		if alias, _, ok := strings.Cut(key, ":"); ok && alias != "" {
			out = append(out, alias)
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return slices.Compact(out)
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s", c.Service.Name, c.Model)
}

func byPriority(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Service.Priority < cands[j].Service.Priority
	})
}
