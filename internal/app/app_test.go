package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/config"
	"github.com/fortuna/jstats/internal/logging"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		BaseURL:      baseURL,
		Renderer:     config.RendererHTTP,
		FetchWorkers: 1,
		LogFormat:    "console",
		LogLevel:     "error",
	}
}

func TestNewFetcherWithoutCache(t *testing.T) {
	f, err := NewFetcher(testConfig("https://example.test/"), logging.NewNop())
	require.NoError(t, err)
	defer f.Close()

	assert.Nil(t, f.Cache)
	assert.Equal(t, "https://example.test", f.Client.BaseURL().String())
}

func TestNewFetcherRejectsRelativeBaseURL(t *testing.T) {
	_, err := NewFetcher(testConfig("jleague.jp"), logging.NewNop())
	assert.Error(t, err)
}

func TestNewFetcherSkipsUnreachableRedis(t *testing.T) {
	cfg := testConfig("https://example.test")
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	f, err := NewFetcher(cfg, logging.NewNop())
	require.NoError(t, err)
	defer f.Close()
	assert.Nil(t, f.Cache)
}

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, catalog.Default().Len(), cat.Len())

	_, err = LoadCatalog(&config.Config{CatalogFile: "does-not-exist.yaml"})
	assert.Error(t, err)
}

func TestRunnerAgainstFixtureSite(t *testing.T) {
	page, err := os.ReadFile("../ingest/jleague/testdata/ranking_shoot.html")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(page)
	}))
	defer srv.Close()

	cat, err := catalog.Parse([]byte("bootstrap: [score]\ncategories:\n  - id: score\n  - id: shoot\n"))
	require.NoError(t, err)

	f, err := NewFetcher(testConfig(srv.URL), logging.NewNop())
	require.NoError(t, err)
	defer f.Close()

	r := NewRunner(testConfig(srv.URL), f, cat, logging.NewNop())
	res, err := r.Run(context.Background(), collector.JobSpec{Season: 2025, League: catalog.J1, Team: "shimizu", DryRun: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Table.Len())
	assert.Equal(t, []string{"score", "shoot"}, res.Table.Columns)
}
