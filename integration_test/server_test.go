package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhejian/shorten/internal/config"
	"github.com/zhejian/shorten/internal/observability"
	"github.com/zhejian/shorten/internal/ratelimit"
	"github.com/zhejian/shorten/internal/server"
	"github.com/zhejian/shorten/internal/testutil"
	"golang.org/x/sync/errgroup"
)

var (
	testDB    *testutil.TestDB
	testCache *testutil.TestCache
	testCfg   *config.Config
	testObs   *observability.Observability
)

var slugRe = regexp.MustCompile(`^[a-zA-Z0-9]{6}$`)

// TestMain sets up the test environment once for all tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testutil.SetupTestDB(ctx)
	if err != nil {
		panic("failed to setup test database: " + err.Error())
	}

	testCache, err = testutil.SetupTestCache(ctx)
	if err != nil {
		panic("failed to setup test cache: " + err.Error())
	}

	testCfg, err = config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	testCfg.Server.Port = "0"
	// Generous limits so ordinary tests never trip them. The rate limit
	// test builds its own server with tight limits.
	testCfg.RateLimit.ShortenShort = ratelimit.MustRate("10000/m")
	testCfg.RateLimit.ShortenLong = ratelimit.MustRate("100000/h")
	testCfg.RateLimit.Redirect = ratelimit.MustRate("10000/m")

	testObs, err = observability.Setup(ctx, observability.Config{
		ServiceName: "shorten-integration",
		Environment: "development",
	})
	if err != nil {
		panic("failed to setup observability: " + err.Error())
	}

	code := m.Run()

	testCache.Teardown(ctx)
	testDB.Teardown(ctx)
	os.Exit(code)
}

func setupTestServer(t *testing.T, cfg *config.Config) (*http.Server, string) {
	gin.SetMode(gin.TestMode)

	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	// Short URLs in responses must point at this server instance.
	baseURL := "http://" + listener.Addr().String()
	cfg.App.BaseURL = baseURL

	srv, _, err := server.NewServer(cfg, testDB.Pool, testCache.Client, nil, testObs)
	require.NoError(t, err)

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.Logf("Server error: %v", err)
		}
	}()
	waitForServer(t, baseURL+"/health", 3*time.Second)

	return srv, baseURL
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
			t.Logf("Health check returned %d:", resp.StatusCode)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Server did not become ready within %v", timeout)
}

// noRedirectClient does not follow redirects so the 302 itself can be inspected.
var noRedirectClient = &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}}

func shortenJSON(t *testing.T, baseURL, originalURL, customSlug string) (*http.Response, map[string]any) {
	t.Helper()
	reqBody := map[string]string{"original_url": originalURL}
	if customSlug != "" {
		reqBody["custom_slug"] = customSlug
	}
	body, _ := json.Marshal(reqBody)
	resp, err := http.Post(baseURL+"/api/v1/shorten", "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func jsonString(v any) string {
	s, _ := v.(string)
	return s
}

// TestHealthCheck verifies the health check endpoint
func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var response map[string]any
	json.NewDecoder(resp.Body).Decode(&response)
	assert.Equal(t, "ok", response["status"])
}

// TestCreateLink_Success verifies successful shortening with a generated slug
func TestCreateLink_Success(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	resp, created := shortenJSON(t, baseURL, "https://www.example.com/very/long/url", "")

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	slug := jsonString(created["slug"])
	assert.Regexp(t, slugRe, slug)
	assert.True(t, strings.HasSuffix(jsonString(created["short_url"]), "/"+slug))
	assert.Equal(t, "https://www.example.com/very/long/url", jsonString(created["original_url"]))

	// Verify the link was saved by querying directly
	var count int
	err := testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM links WHERE slug = $1", slug).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestCreateLink_Idempotent verifies the same URL maps to the same slug
func TestCreateLink_Idempotent(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	resp1, create1 := shortenJSON(t, baseURL, "https://idempotent.example", "")
	assert.Equal(t, http.StatusCreated, resp1.StatusCode)

	resp2, create2 := shortenJSON(t, baseURL, "https://idempotent.example", "")
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, jsonString(create1["slug"]), jsonString(create2["slug"]))

	var count int
	err := testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM links WHERE original_url = $1", "https://idempotent.example").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestCreateLink_CustomSlug verifies custom slugs are honored and normalized
func TestCreateLink_CustomSlug(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	resp, created := shortenJSON(t, baseURL, "https://custom.example", "MyLink")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "mylink", jsonString(created["slug"]))

	// Same slug for a different URL conflicts
	resp2, _ := shortenJSON(t, baseURL, "https://other.example", "mylink")
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

// TestCreateLink_InvalidRequest tests validation error handling
func TestCreateLink_InvalidRequest(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	tests := []struct {
		name           string
		requestBody    string
		expectedStatus int
	}{
		{
			name:           "empty body",
			requestBody:    "",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing original_url field",
			requestBody:    `{"invalid": "field"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "empty original_url value",
			requestBody:    `{"original_url": ""}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "dangerous scheme",
			requestBody:    `{"original_url": "javascript:alert(1)"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed url",
			requestBody:    `{"original_url": "not a url at all"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "reserved slug",
			requestBody:    `{"original_url": "https://reserved.example", "custom_slug": "admin"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "slug too short",
			requestBody:    `{"original_url": "https://short.example", "custom_slug": "ab"}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(baseURL+"/api/v1/shorten", "application/json",
				bytes.NewReader([]byte(tt.requestBody)))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

// TestRedirect verifies the redirect path and hit counting
func TestRedirect(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	_, created := shortenJSON(t, baseURL, "https://www.google.com", "")
	slug := jsonString(created["slug"])
	require.NotEmpty(t, slug)

	resp, err := noRedirectClient.Get(baseURL + "/" + slug)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://www.google.com", resp.Header.Get("Location"))

	// Trailing slash resolves the same slug without a redirect hop
	resp, err = noRedirectClient.Get(baseURL + "/" + slug + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://www.google.com", resp.Header.Get("Location"))

	// Both visits counted
	resp, err = http.Get(baseURL + "/api/v1/links/" + slug)
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats map[string]any
	json.NewDecoder(resp.Body).Decode(&stats)
	assert.Equal(t, float64(2), stats["hits"])
}

// TestRedirect_NotFound verifies 404 on unknown slugs
func TestRedirect_NotFound(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	resp, err := noRedirectClient.Get(baseURL + "/nosuchlink")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestConcurrentRedirects verifies hit counting is exact under parallel load
func TestConcurrentRedirects(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	_, created := shortenJSON(t, baseURL, "https://concurrent.example", "")
	slug := jsonString(created["slug"])
	require.NotEmpty(t, slug)

	const visitors = 20
	var g errgroup.Group
	for i := 0; i < visitors; i++ {
		g.Go(func() error {
			resp, err := noRedirectClient.Get(baseURL + "/" + slug)
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	resp, err := http.Get(baseURL + "/api/v1/links/" + slug)
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats map[string]any
	json.NewDecoder(resp.Body).Decode(&stats)
	assert.Equal(t, float64(visitors), stats["hits"])
}

// TestGetLink verifies the metadata endpoint
func TestGetLink(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	_, created := shortenJSON(t, baseURL, "https://www.example.org", "")
	slug := jsonString(created["slug"])

	resp, err := http.Get(baseURL + "/api/v1/links/" + slug)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var getResp map[string]any
	json.NewDecoder(resp.Body).Decode(&getResp)
	assert.Equal(t, slug, jsonString(getResp["slug"]))
	assert.Equal(t, "https://www.example.org", jsonString(getResp["original_url"]))
	assert.Equal(t, float64(0), getResp["hits"])
}

func TestGetLink_NotFound(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	resp, err := http.Get(baseURL + "/api/v1/links/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestIndexPage verifies the HTML surface renders form and recent links
func TestIndexPage(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	_, created := shortenJSON(t, baseURL, "https://recent.example", "")
	slug := jsonString(created["slug"])

	resp, err := http.Get(baseURL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	page, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(page), `name="original_url"`)
	assert.Contains(t, string(page), slug)
}

// TestShortenForm verifies the HTML form round trip
func TestShortenForm(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	t.Run("creates a link and shows it", func(t *testing.T) {
		resp, err := http.PostForm(baseURL+"/", url.Values{
			"original_url": {"https://form.example"},
		})
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		page, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(page), "Your short link is ready")
	})

	t.Run("shows a field error for a bad URL", func(t *testing.T) {
		resp, err := http.PostForm(baseURL+"/", url.Values{
			"original_url": {"javascript:alert(1)"},
		})
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		page, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(page), `class="error"`)
	})
}

// TestRateLimit_Shorten verifies the create path denies over-limit clients
func TestRateLimit_Shorten(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)

	limitedCfg := *testCfg
	limitedCfg.RateLimit.ShortenShort = ratelimit.MustRate("3/m")
	srv, baseURL := setupTestServer(t, &limitedCfg)
	defer srv.Shutdown(ctx)

	for i := 0; i < 3; i++ {
		resp, _ := shortenJSON(t, baseURL, "https://limited.example/"+string(rune('a'+i)), "")
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, _ := shortenJSON(t, baseURL, "https://limited.example/over", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The denied request must not consume the window: redirects still work
	redirectResp, err := noRedirectClient.Get(baseURL + "/nosuchlink")
	require.NoError(t, err)
	redirectResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, redirectResp.StatusCode)
}

// TestCache_LinkCachedAfterCreate verifies the write-through cache entry
func TestCache_LinkCachedAfterCreate(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	_, created := shortenJSON(t, baseURL, "https://cache-create.example", "")
	slug := jsonString(created["slug"])

	exists, err := testCache.Client.Exists(ctx, "link:"+slug).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists, "link should be cached after creation")
}

// TestCache_NegativeCaching verifies redirect misses are negatively cached
func TestCache_NegativeCaching(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	srv, baseURL := setupTestServer(t, testCfg)
	defer srv.Shutdown(ctx)

	resp, err := noRedirectClient.Get(baseURL + "/nonexistent123")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cached, err := testCache.Client.Get(ctx, "link:nonexistent123").Result()
	require.NoError(t, err)
	assert.Equal(t, "__NOT_FOUND__", cached, "missing slug should be negatively cached")
}
