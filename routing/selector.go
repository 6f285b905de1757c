package routing

import (
	"fmt"
	"sort"
	"sync"

	"pathfinder/common"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultSelector is the selection policy used when none is configured
	DefaultSelector = SelectorFirst

	// SelectorFirst always picks the first enumerated candidate
	SelectorFirst = "first"
)

// Selector picks one path out of the candidates of a switch pair
type Selector interface {
	// Select returns the chosen path, or false when there is no candidate
	Select(paths []common.Path) (common.Path, bool)
}

// SelectorFunc adapts a function to the Selector interface
type SelectorFunc func(paths []common.Path) (common.Path, bool)

func (f SelectorFunc) Select(paths []common.Path) (common.Path, bool) {
	return f(paths)
}

// FirstPath returns the only candidate, or the first one when there are several.
// Candidates are ordered lexicographically by the path table builder, so the choice is stable.
func FirstPath(paths []common.Path) (common.Path, bool) {
	switch len(paths) {
	case 0:
		return nil, false
	case 1:
		return paths[0], true
	default:
		return pickOne(paths), true
	}
}

func pickOne(paths []common.Path) common.Path {
	return paths[0]
}

// SelectorRegistry manages the available selection policies
type SelectorRegistry struct {
	selectors map[string]Selector
	mu        sync.RWMutex
}

func NewSelectorRegistry() *SelectorRegistry {
	return &SelectorRegistry{
		selectors: make(map[string]Selector),
	}
}

var globalRegistry = func() *SelectorRegistry {
	r := NewSelectorRegistry()
	_ = r.Register(SelectorFirst, SelectorFunc(FirstPath))
	return r
}()

// Register adds a policy under name
func (r *SelectorRegistry) Register(name string, selector Selector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.selectors[name]; exists {
		return fmt.Errorf("selector '%s' is already registered", name)
	}
	r.selectors[name] = selector
	return nil
}

// Get retrieves a policy by name
func (r *SelectorRegistry) Get(name string) (Selector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selector, exists := r.selectors[name]
	if !exists {
		return nil, fmt.Errorf("selector '%s' not found in registry", name)
	}
	return selector, nil
}

// List returns the registered policy names in sorted order
func (r *SelectorRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.selectors))
	for name := range r.selectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterSelector registers a policy in the global registry
func RegisterSelector(name string, selector Selector) error {
	return globalRegistry.Register(name, selector)
}

// ListSelectors returns all policies in the global registry
func ListSelectors() []string {
	return globalRegistry.List()
}

// SelectorByName returns the named policy from the global registry, falling back to the
// default policy when the name is unknown
func SelectorByName(name string) Selector {
	if name == "" {
		name = DefaultSelector
	}
	selector, err := globalRegistry.Get(name)
	if err != nil {
		log.Warnf("SelectorByName, %v, will fallback to %s, available: %v", err, DefaultSelector, ListSelectors())
		selector, _ = globalRegistry.Get(DefaultSelector)
	}
	return selector
}
