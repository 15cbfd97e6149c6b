// Package secrets resolves secret references in configuration and keeps
// resolved values out of log output.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Resolver resolves secret references to their values.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// IsRef reports whether value has the form "env(NAME)".
func IsRef(value string) bool {
	return strings.HasPrefix(value, "env(") && strings.HasSuffix(value, ")") && len(value) > len("env()")
}

// EnvResolver resolves "env(NAME)" references from the process environment.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver creates a resolver over os.LookupEnv.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

// Resolve returns the value of the referenced variable.
func (r *EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	if !IsRef(ref) {
		return "", fmt.Errorf("unsupported secret reference %q (expected env(NAME))", ref)
	}
	name := ref[len("env(") : len(ref)-1]
	value, ok := r.lookup(name)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", name)
	}
	return value, nil
}

// Expand resolves value when it is a reference and returns it unchanged
// otherwise.
func Expand(ctx context.Context, r Resolver, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	return r.Resolve(ctx, value)
}
