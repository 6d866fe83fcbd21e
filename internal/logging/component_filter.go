package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler gates records by a per-component minimum level.
// The component is read from the "component" attribute, either attached
// with Logger.With or passed on the record itself. Components without an
// override use the default level.
//
// Handlers derived through WithAttrs and WithGroup share the level table,
// so SetLevel affects loggers created before the call.
type ComponentFilterHandler struct {
	next      slog.Handler
	levels    *levelTable
	component string
}

type levelTable struct {
	mu        sync.RWMutex
	def       slog.Level
	overrides map[string]slog.Level
}

func (t *levelTable) get(component string) slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if lvl, ok := t.overrides[component]; ok {
		return lvl
	}
	return t.def
}

func (t *levelTable) min() slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lowest := t.def
	for _, lvl := range t.overrides {
		lowest = min(lowest, lvl)
	}
	return lowest
}

// NewComponentFilterHandler wraps next with a default level of def.
func NewComponentFilterHandler(next slog.Handler, def slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next:   next,
		levels: &levelTable{def: def, overrides: make(map[string]slog.Level)},
	}
}

// SetLevel overrides the minimum level for component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.levels.mu.Lock()
	h.levels.overrides[component] = level
	h.levels.mu.Unlock()
}

// ClearLevel drops the override for component.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.levels.mu.Lock()
	delete(h.levels.overrides, component)
	h.levels.mu.Unlock()
}

// Level returns the effective minimum level for component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	return h.levels.get(component)
}

// DefaultLevel returns the level used by components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	return h.levels.def
}

func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	threshold := h.levels.min()
	if h.component != "" {
		threshold = h.levels.get(h.component)
	}
	if level < threshold {
		return false
	}
	return h.next == nil || h.next.Enabled(ctx, level)
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.levels.get(component) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	return &ComponentFilterHandler{
		next:      h.next.WithAttrs(attrs),
		levels:    h.levels,
		component: component,
	}
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	return &ComponentFilterHandler{
		next:      h.next.WithGroup(name),
		levels:    h.levels,
		component: h.component,
	}
}
