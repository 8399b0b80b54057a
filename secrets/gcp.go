package secrets

import (
	"context"
	"fmt"
	"os"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/retry"
	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// gcpProjectEnvVar overrides the project found in the default credentials.
const gcpProjectEnvVar = "CALLSIGNAL_GCP_PROJECT"

func gcpProjectID(ctx context.Context) (string, error) {
	if id := os.Getenv(gcpProjectEnvVar); id != "" {
		return id, nil
	}
	credentials, err := google.FindDefaultCredentials(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to find default GCP credentials")
	}
	if credentials.ProjectID == "" {
		return "", errors.Errorf("no GCP project in default credentials; set %s", gcpProjectEnvVar)
	}
	return credentials.ProjectID, nil
}

// GCPSource provides secrets from GCP Secret Manager.
type GCPSource struct {
	client    *secretmanager.Client
	projectID string
}

// NewGCPSource returns a GCP secret source for the project of the default credentials.
func NewGCPSource(ctx context.Context) (*GCPSource, error) {
	projectID, err := gcpProjectID(ctx)
	if err != nil {
		return nil, err
	}

	// 5 retries with 1s timeout
	// exponential backoff with a base of 50ms and a +/- 10% jitter
	retryInterceptor := grpc_retry.UnaryClientInterceptor(
		grpc_retry.WithPerRetryTimeout(time.Second),
		grpc_retry.WithMax(5),
		grpc_retry.WithBackoff(grpc_retry.BackoffExponentialWithJitter(50*time.Millisecond, 0.1)),
	)

	client, err := secretmanager.NewClient(ctx, option.WithGRPCDialOption(grpc.WithChainUnaryInterceptor(retryInterceptor)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create secret manager client")
	}
	return &GCPSource{client: client, projectID: projectID}, nil
}

// Close closes the underlying GCP client.
func (g *GCPSource) Close() error {
	return g.client.Close()
}

// Get returns the latest version of the named secret.
func (g *GCPSource) Get(ctx context.Context, name string) (string, error) {
	result, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: gcpSecretVersion(g.projectID, name),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "failed to access secret version")
	}
	return string(result.GetPayload().GetData()), nil
}

func gcpSecretVersion(projectID, name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name)
}

// Type returns SourceTypeGCP.
func (g *GCPSource) Type() SourceType {
	return SourceTypeGCP
}
