package secrets

import (
	"context"
	"os"
)

// EnvSource provides secrets from environment variables of the same name.
type EnvSource struct{}

// Get returns the value of the environment variable.
func (src *EnvSource) Get(ctx context.Context, name string) (string, error) {
	secret, ok := os.LookupEnv(name)
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

// Type returns SourceTypeEnv.
func (src *EnvSource) Type() SourceType {
	return SourceTypeEnv
}
