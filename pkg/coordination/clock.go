// Package coordination provides the shared cache and task-lock primitives used
// by every pipeline component. Registries are constructed once per process and
// injected; there is no package-level mutable state.
package coordination

import "time"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
