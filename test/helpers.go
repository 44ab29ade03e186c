package test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/quayforge/ociregistry/internal/server"
)

// startTestServer starts a plaintext test server in a fresh temp directory
// and returns it along with a cleanup func that shuts it down.
func startTestServer(t *testing.T) (*server.Server, func()) {
	return startTestServerWithDataDir(t, t.TempDir())
}

// startTestServerWithDataDir starts a test server rooted at dataDir.
func startTestServerWithDataDir(t *testing.T, dataDir string) (*server.Server, func()) {
	config := &server.Config{
		Host:        "127.0.0.1",
		Port:        "0",
		DataDir:     filepath.Join(dataDir, "data"),
		AuditDBPath: filepath.Join(dataDir, "audit.db"),
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	srv, err := server.New(config, logger)
	require.NoError(t, err, "failed to create server")

	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	select {
	case err := <-errChan:
		cancel()
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cleanup := func() {
		cancel()
		select {
		case <-errChan:
		case <-time.After(5 * time.Second):
		}
	}

	return srv, cleanup
}

// makeRequest issues a plain HTTP request against the test server.
func makeRequest(method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return client.Do(req)
}

// baseURL returns the plaintext base URL for a running test server.
func baseURL(s *server.Server) string {
	return fmt.Sprintf("http://127.0.0.1:%s", s.GetPort())
}
