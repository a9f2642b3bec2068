package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Auto selects the highest-priority engine available in this build.
const Auto = "auto"

// Factory constructs an engine. It returns ErrNotAvailable when the engine
// was not compiled in.
type Factory func() (Engine, error)

type registration struct {
	name     string
	priority int
	factory  Factory
}

var (
	registryMu sync.Mutex
	registry   = map[string]registration{}
)

// Register makes an engine selectable by name. Higher priority engines are
// preferred by Auto. Registering a name twice replaces the first entry.
func Register(name string, priority int, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{name: name, priority: priority, factory: f}
}

// Names lists the registered engines, highest priority first.
func Names() []string {
	regs := sorted()
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = r.name
	}
	return names
}

// Select constructs the named engine. With Auto it tries every registered
// engine by priority and returns the first that is available.
func Select(name string) (Engine, error) {
	if name == "" || name == Auto {
		for _, r := range sorted() {
			eng, err := r.factory()
			if errors.Is(err, ErrNotAvailable) {
				continue
			}
			return eng, err
		}
		return nil, fmt.Errorf("%w: no engine available", ErrNotAvailable)
	}

	registryMu.Lock()
	r, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return r.factory()
}

func sorted() []registration {
	registryMu.Lock()
	regs := make([]registration, 0, len(registry))
	for _, r := range registry {
		regs = append(regs, r)
	}
	registryMu.Unlock()

	sort.Slice(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority > regs[j].priority
		}
		return regs[i].name < regs[j].name
	})
	return regs
}
