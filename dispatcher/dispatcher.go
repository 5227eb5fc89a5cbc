// Package dispatcher implements the composite OperationProvider
// (spec.md §4.7, C10): it aggregates descriptors from every registered
// provider, routes dispatch calls to the right one, fans wildcard
// ("*") calls out to every matching provider, and notifies observers
// after a successful mutation.
//
// Grounded on the teacher's db/repository.CompositeRepository: a
// struct of named sub-repositories, a routing method per concern, and
// "failures logged but don't stop" semantics for the non-authoritative
// side-effects — here specialized to operation.Provider aggregation
// and observer fan-out instead of CouchDB/Neo4j/Postgres/Redis.
package dispatcher

import (
	"context"
	"sync"

	"github.com/nightscape/holon/holonerr"
	"github.com/nightscape/holon/holonlog"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/value"
)

// Observer is a write-only sink notified after every successful
// dispatch (spec.md §4.7). Filter is "*" or a specific entity_name.
type Observer interface {
	Filter() string
	Observe(ctx context.Context, entity, op string, undo operation.UndoAction)
}

// Dispatcher is the composite operation.Provider.
type Dispatcher struct {
	mu        sync.RWMutex
	providers map[string]operation.Provider // entity_name -> provider
	observers []Observer
}

// New returns an empty Dispatcher; Register providers before use.
func New() *Dispatcher {
	return &Dispatcher{providers: make(map[string]operation.Provider)}
}

// Register adds provider's operations under every entity_name it
// declares. Routing is per entity_name, not per (entity, op) pair: a
// later Register that declares an already-registered entity_name
// replaces the earlier provider for all of that entity's operations,
// including ones the later provider does not declare.
func (d *Dispatcher) Register(provider operation.Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, desc := range provider.Operations() {
		d.providers[desc.EntityName] = provider
	}
}

// AddObserver registers an OperationObserver-style sink.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Operations returns the union of every registered provider's
// descriptors.
func (d *Dispatcher) Operations() []operation.Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[operation.Provider]bool)
	var all []operation.Descriptor
	for _, p := range d.providers {
		if seen[p] {
			continue
		}
		seen[p] = true
		all = append(all, p.Operations()...)
	}
	return all
}

// FindOperations filters Operations() to those declared for entity
// whose required parameters are satisfied by availableArgs, with
// set_field special-cased to require only "id" (spec.md §4.7).
func (d *Dispatcher) FindOperations(entity string, availableArgs map[string]value.Value) []operation.Descriptor {
	var out []operation.Descriptor
	for _, desc := range d.Operations() {
		if desc.EntityName != entity {
			continue
		}
		if desc.Name == "set_field" {
			if _, ok := availableArgs["id"]; ok {
				out = append(out, desc)
			}
			continue
		}
		if desc.Satisfies(availableArgs) {
			out = append(out, desc)
		}
	}
	return out
}

// Execute dispatches one operation call (spec.md §4.7). entity == "*"
// triggers a wildcard fan-out: every provider whose operations include
// name is invoked with its real entity_name, success iff at least one
// succeeds, and the result is always Irreversible (wildcard ops are not
// undoable as a unit).
func (d *Dispatcher) Execute(ctx context.Context, entity, name string, params map[string]value.Value) (operation.UndoAction, error) {
	if entity == "*" {
		return d.executeWildcard(ctx, name, params)
	}

	d.mu.RLock()
	provider, ok := d.providers[entity]
	d.mu.RUnlock()
	if !ok {
		return operation.UndoAction{}, holonerr.New(holonerr.KindNotFound, holonerr.ErrNoProviderRegistered).WithEntity(entity, name)
	}

	undo, err := provider.Execute(ctx, entity, name, params)
	if err != nil {
		return operation.UndoAction{}, err
	}
	if undo.EntityName == "" {
		undo.EntityName = entity
	}
	d.notify(ctx, entity, name, undo)
	return undo, nil
}

func (d *Dispatcher) executeWildcard(ctx context.Context, name string, params map[string]value.Value) (operation.UndoAction, error) {
	d.mu.RLock()
	seen := make(map[operation.Provider]bool)
	type target struct {
		entity   string
		provider operation.Provider
	}
	var targets []target
	for entity, p := range d.providers {
		if seen[p] {
			continue
		}
		for _, desc := range p.Operations() {
			if desc.EntityName == entity && desc.Name == name {
				targets = append(targets, target{entity: entity, provider: p})
				seen[p] = true
				break
			}
		}
	}
	d.mu.RUnlock()

	log := holonlog.For("dispatcher")
	var succeeded int
	var lastErr error
	for _, tgt := range targets {
		undo, err := tgt.provider.Execute(ctx, tgt.entity, name, params)
		if err != nil {
			lastErr = err
			log.WithError(err).WithField("entity", tgt.entity).Warn("wildcard fan-out target failed")
			continue
		}
		succeeded++
		undo.EntityName = tgt.entity
		d.notify(ctx, tgt.entity, name, undo)
	}

	if succeeded == 0 {
		if lastErr != nil {
			return operation.UndoAction{}, lastErr
		}
		return operation.UndoAction{}, holonerr.New(holonerr.KindNotFound, holonerr.ErrNoProviderRegistered).WithEntity("*", name)
	}
	return operation.UndoAction{Kind: operation.Irreversible}, nil
}

func (d *Dispatcher) notify(ctx context.Context, entity, name string, undo operation.UndoAction) {
	d.mu.RLock()
	observers := append([]Observer{}, d.observers...)
	d.mu.RUnlock()

	log := holonlog.For("dispatcher")
	for _, o := range observers {
		if o.Filter() != "*" && o.Filter() != entity {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("panic", r).Warn("observer panicked, ignoring")
				}
			}()
			o.Observe(ctx, entity, name, undo)
		}()
	}
}
