// Package secrets resolves credentials such as database URIs from the environment or
// from a secret manager.
package secrets

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a source does not hold the named secret.
var ErrNotFound = errors.New("secret not found")

// A Source looks up secrets by name.
type Source interface {
	Get(ctx context.Context, name string) (string, error)
	Type() SourceType
}

// SourceType names a kind of Source.
type SourceType string

// The known source types.
const (
	SourceTypeEnv = SourceType("env")
	SourceTypeGCP = SourceType("gcp")
)

// NewSource returns a Source of the given type. An empty type means the environment.
func NewSource(ctx context.Context, sourceType SourceType) (Source, error) {
	switch sourceType {
	case SourceTypeGCP:
		return NewGCPSource(ctx)
	case "", SourceTypeEnv:
		return &EnvSource{}, nil
	default:
		return nil, errors.Errorf("unknown secret source type %q", sourceType)
	}
}

// GetOrDefault returns the named secret, or def if the source does not have it. Other
// lookup failures are returned as is.
func GetOrDefault(ctx context.Context, source Source, name, def string) (string, error) {
	value, err := source.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to get secret %q", name)
	}
	return value, nil
}

// Close releases the source's resources if it holds any.
func Close(source Source) error {
	if closer, ok := source.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
