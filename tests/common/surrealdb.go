// Package common holds integration test fixtures shared across stocksync packages.
package common

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DockerEnabledEnv must be "true" for container-backed tests to run.
	DockerEnabledEnv = "STOCKSYNC_TEST_DOCKER"
	// SurrealAddrEnv points the tests at an already running SurrealDB
	// (e.g. ws://localhost:8000/rpc) instead of starting a container.
	SurrealAddrEnv = "STOCKSYNC_TEST_SURREAL_ADDR"
	// SurrealImageEnv overrides the container image.
	SurrealImageEnv = "STOCKSYNC_TEST_SURREAL_IMAGE"

	defaultSurrealImage = "surrealdb/surrealdb:v3.0.0"

	// SurrealUser and SurrealPass are the root credentials of the test instance.
	SurrealUser = "root"
	SurrealPass = "root"
)

var (
	surrealOnce sync.Once
	shared      *SurrealDB
	sharedErr   error
)

// SurrealDB is a SurrealDB instance reachable from the tests, either a
// testcontainers-managed container or an external server.
type SurrealDB struct {
	container testcontainers.Container
	address   string
}

// RequireDocker skips the test unless container-backed tests are enabled.
// An external address counts as enabled.
func RequireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv(SurrealAddrEnv) != "" {
		return
	}
	if os.Getenv(DockerEnabledEnv) != "true" {
		t.Skipf("set %s=true or %s to run SurrealDB integration tests", DockerEnabledEnv, SurrealAddrEnv)
	}
}

// StartSurrealDB returns the process-wide SurrealDB instance, starting a
// container on first use.
func StartSurrealDB(t *testing.T) *SurrealDB {
	t.Helper()
	RequireDocker(t)

	surrealOnce.Do(func() {
		if addr := strings.TrimSpace(os.Getenv(SurrealAddrEnv)); addr != "" {
			shared = &SurrealDB{address: addr}
			return
		}
		shared, sharedErr = startContainer(context.Background())
	})

	if sharedErr != nil {
		t.Fatalf("SurrealDB unavailable: %v", sharedErr)
	}
	return shared
}

func startContainer(ctx context.Context) (*SurrealDB, error) {
	image := os.Getenv(SurrealImageEnv)
	if image == "" {
		image = defaultSurrealImage
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--user", SurrealUser, "--pass", SurrealPass},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("8000/tcp"),
				wait.ForLog("Started web server"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("resolve container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "8000/tcp")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("resolve container port: %w", err)
	}

	return &SurrealDB{
		container: container,
		address:   fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
	}, nil
}

// Address returns the WebSocket RPC address.
func (s *SurrealDB) Address() string {
	return s.address
}

// Terminate stops the container, if this instance owns one.
func (s *SurrealDB) Terminate() {
	if s != nil && s.container != nil {
		s.container.Terminate(context.Background())
	}
}
