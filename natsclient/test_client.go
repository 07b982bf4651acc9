package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient is a connected Client backed by a throwaway NATS container.
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
}

const testNATSImage = "nats:2.11.7-alpine"

// NewTestClient starts a JetStream-enabled NATS container and connects to it.
// The container is terminated when the test ends.
func NewTestClient(t testing.TB) *TestClient {
	t.Helper()

	tc, err := StartTestClient(context.Background())
	if err != nil {
		t.Fatalf("start NATS test container: %v", err)
	}
	t.Cleanup(func() { _ = tc.Terminate() })
	return tc
}

// StartTestClient is NewTestClient for callers without a testing.TB, such as TestMain.
func StartTestClient(ctx context.Context) (*TestClient, error) {
	req := testcontainers.ContainerRequest{
		Image:        testNATSImage,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--js", "--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("mapped port: %w", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	client, err := NewClient(url, WithMaxReconnects(0))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &TestClient{container: container, Client: client, URL: url}, nil
}

// CreateKVBucket creates a bucket for the test.
func (tc *TestClient) CreateKVBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	return tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name})
}

// Terminate closes the client and stops the container.
func (tc *TestClient) Terminate() error {
	ctx := context.Background()
	_ = tc.Client.Close(ctx)
	return tc.container.Terminate(ctx)
}
