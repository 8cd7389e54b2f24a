package dispatch

import (
	"slices"
)

// WithEnv sets the environment variables that a Runtime or Endpoint
// parses its default configuration from.
//
// It defaults to os.Environ().
func WithEnv(env ...string) interface {
	RuntimeOption
	EndpointOption
} {
	return envOption(env)
}

type envOption []string

func (env envOption) configureRuntime(r *Runtime)   { r.env = slices.Clone(env) }
func (env envOption) configureEndpoint(e *Endpoint) { e.env = slices.Clone(env) }
