// Package runner executes jobs: a Registry maps job types to handlers, a
// JobContext gives handlers progress/log emission and cooperative
// cancellation, and the Executor drives a single run from claim to terminal
// state.
package runner

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// HandlerFunc is a type-erased job handler. It returns the job's result,
// which is JSON-marshalled into the record on completion.
type HandlerFunc func(ctx *JobContext) (any, error)

// Options are per-job-type defaults applied at enqueue time.
type Options struct {
	// MaxRetries is the number of automatic retries after a failure.
	MaxRetries int

	// Timeout is the maximum run duration. Expiry is treated as an
	// automatic cancellation request. Zero means no timeout.
	Timeout time.Duration
}

// Option is a functional option for configuring a job type registration.
type Option func(*Options)

// WithMaxRetries sets the maximum number of automatic retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithTimeout sets the maximum execution duration for the job type.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

type registration struct {
	fn   HandlerFunc
	opts Options
}

// Registry maps job types to type-erased handlers and their per-type
// defaults. Safe for concurrent use.
type Registry struct {
	mu                sync.RWMutex
	handlers          map[string]registration
	defaultMaxRetries int
}

// NewRegistry creates an empty registry. defaultMaxRetries applies to job
// types registered without WithMaxRetries.
func NewRegistry(defaultMaxRetries int) *Registry {
	return &Registry{
		handlers:          make(map[string]registration),
		defaultMaxRetries: defaultMaxRetries,
	}
}

// Register registers a typed handler for a job type. The typed function is
// wrapped in a closure that unmarshals the job's parameters into T and
// validates them before the handler runs, so malformed payloads surface as
// handler failures at the type boundary instead of leaking an untyped blob
// through the engine.
//
// Package-level generic function because Go does not allow generic methods
// on non-generic receiver types.
func Register[T any](r *Registry, jobType string, fn func(ctx *JobContext, params T) (any, error), opts ...Option) {
	o := Options{MaxRetries: r.defaultMaxRetries}
	for _, opt := range opts {
		opt(&o)
	}

	wrapped := func(ctx *JobContext) (any, error) {
		var params T
		if raw := ctx.Parameters(); len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, fmt.Errorf("unmarshal parameters for job type %q: %w", jobType, err)
			}
		}
		// validator only understands structs; other payload shapes
		// (maps, slices) pass through.
		if reflect.ValueOf(params).Kind() == reflect.Struct {
			if err := validate.Struct(&params); err != nil {
				return nil, fmt.Errorf("invalid parameters for job type %q: %w", jobType, err)
			}
		}
		return fn(ctx, params)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = registration{fn: wrapped, opts: o}
}

// Get returns the handler for the given job type.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[jobType]
	return reg.fn, ok
}

// Options returns the per-type defaults for the given job type.
func (r *Registry) Options(jobType string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[jobType]
	return reg.opts, ok
}

// Types returns all registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
