package registry

import "time"

// Option configures a Registry at construction, the same functional-options
// shape as the teacher's registry/options.go.
type Option func(*Registry)

// WithEvictionInterval configures how often the janitor sweep runs.
func WithEvictionInterval(d time.Duration) Option {
	return func(r *Registry) { r.evictionInterval = d }
}

// WithWorkerBufferSize sets the per-queue mailbox capacity (spec floor: 64).
func WithWorkerBufferSize(size int) Option {
	return func(r *Registry) { r.workerBufferSize = size }
}
