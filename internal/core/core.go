// Package core defines the monitoring-core contract the history cache is
// built against: where the rotated log files live and where diagnostics go.
package core

import (
	"log"
	"sync"
)

// Core supplies the runtime facilities of the owning monitoring engine.
//
// Engine construction order means a Core reference may be handed to
// consumers before the Core itself is fully initialized. Consumers must
// store the reference only and defer every method call until their own
// first operation.
type Core interface {
	// LogDirectory returns the directory holding the rotated history log files.
	LogDirectory() string
	// Logger returns the engine's diagnostic logger. May return nil, in
	// which case consumers fall back to the process-default logger.
	Logger() *log.Logger
}

// Static is a Core backed by fixed values.
type Static struct {
	Dir string
	Log *log.Logger
}

func (s *Static) LogDirectory() string { return s.Dir }
func (s *Static) Logger() *log.Logger  { return s.Log }

// Deferred is a Core that starts in a not-yet-ready state and is bound to a
// real Core once engine initialization has finished. It makes the two-phase
// lifecycle explicit: handing out the reference is safe at any time, calling
// through it is only legal after Bind.
type Deferred struct {
	mu    sync.Mutex
	inner Core
}

// Bind attaches the fully initialized Core. It must be called exactly once,
// before any other method.
func (d *Deferred) Bind(c Core) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inner != nil {
		panic("core: Deferred already bound")
	}
	if c == nil {
		panic("core: Bind(nil)")
	}
	d.inner = c
}

func (d *Deferred) resolve() Core {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inner == nil {
		panic("core: used before Bind")
	}
	return d.inner
}

func (d *Deferred) LogDirectory() string { return d.resolve().LogDirectory() }
func (d *Deferred) Logger() *log.Logger  { return d.resolve().Logger() }
