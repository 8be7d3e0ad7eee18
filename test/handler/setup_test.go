package handler_test

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/padhai/ragserver/internal/chunker"
	"github.com/padhai/ragserver/internal/config"
	"github.com/padhai/ragserver/internal/docstore"
	"github.com/padhai/ragserver/internal/handler"
	"github.com/padhai/ragserver/internal/indexcache"
	"github.com/padhai/ragserver/internal/pkg/jwt"
	"github.com/padhai/ragserver/internal/service"
)

var jwtSecret = []byte("test-secret")

const jwtAudience = "authenticated"

// textExtract stands in for PDF parsing: stored bytes are the page text, and
// a corruption marker simulates an unreadable document.
func textExtract(data []byte) ([]string, error) {
	if bytes.Contains(data, []byte("CORRUPT")) {
		return nil, fmt.Errorf("malformed document")
	}
	return []string{string(data)}, nil
}

type testEmbedder struct{}

func (testEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 16)
		vec[0] = 1
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[1+h.Sum32()%15]++
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (testEmbedder) ModelName() string { return "test-embed" }

type testGenerator struct{}

func (testGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "The mitochondria produces ATP through cellular respiration.", nil
}

type fixture struct {
	router  http.Handler
	dataDir string
}

func (f *fixture) seedFile(t *testing.T, owner, folder, name, content string) {
	t.Helper()
	dir := filepath.Join(f.dataDir, owner, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func (f *fixture) token(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.GenerateToken(subject, jwtAudience, jwtSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func setupRouter(t *testing.T, rateWindow time.Duration) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dataDir := t.TempDir()
	store, err := docstore.New(config.DocStoreConfig{
		Type: "local",
		Data: map[string]interface{}{
			"dir": dataDir,
		},
	})
	require.NoError(t, err)

	ck, err := chunker.New(200, 40)
	require.NoError(t, err)

	svc := service.NewRAGService(
		store,
		textExtract,
		ck,
		testEmbedder{},
		testGenerator{},
		indexcache.New(8, time.Minute),
		4,
		8,
	)

	router := handler.NewRouter(handler.RouterDeps{
		RAG:             handler.NewRAGHandler(svc),
		JWTSecret:       jwtSecret,
		JWTAudience:     jwtAudience,
		CORSAllowlist:   []string{"http://localhost:3000"},
		IndexRateWindow: rateWindow,
	})

	return &fixture{router: router, dataDir: dataDir}
}
