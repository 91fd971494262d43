package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvResolver resolves env(VAR_NAME) references from the process
// environment.
type EnvResolver struct{}

// NewEnvResolver creates an environment-variable secret resolver.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

// Resolve reads the environment variable named by ref. An unset
// variable is an error; a set-but-empty value is returned as is.
func (r *EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	name, ok := refArg(ref, "env")
	if !ok {
		return "", fmt.Errorf("unsupported secret reference format: %q (expected env(VAR_NAME))", ref)
	}
	value, set := os.LookupEnv(name)
	if !set {
		return "", fmt.Errorf("environment variable %q not set", name)
	}
	return value, nil
}
