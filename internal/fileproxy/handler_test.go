package fileproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(p *Proxy) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/proxy/files/:token", p.ServeDownload)
	return r
}

func TestServeDownloadInjectsCredentialUpstream(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("file-bytes"))
	}))
	defer upstream.Close()

	p := testProxy(t, 3600)
	token, err := p.Mint(upstream.URL, "Bearer upstream-secret", "report.txt", 10, "text/plain")
	require.NoError(t, err)

	router := setupRouter(p)
	w := httptest.NewRecorder()
	// The request carries no credential; the proxy adds it upstream.
	req := httptest.NewRequest(http.MethodGet, "/proxy/files/"+token, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "file-bytes", w.Body.String())
	assert.Equal(t, "Bearer upstream-secret", gotAuth)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "report.txt")
	// The credential must not appear anywhere in the response.
	assert.NotContains(t, w.Header().Get("Authorization"), "upstream-secret")
}

func TestServeDownloadSecondUseIs404(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	p := testProxy(t, 3600)
	token, err := p.Mint(upstream.URL, "", "a.txt", 2, "")
	require.NoError(t, err)

	router := setupRouter(p)

	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/proxy/files/"+token, nil))
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/proxy/files/"+token, nil))
	assert.Equal(t, http.StatusNotFound, w2.Code)
	assert.Contains(t, w2.Body.String(), "Unknown or expired download token")
}

func TestServeDownloadUnknownToken(t *testing.T) {
	p := testProxy(t, 3600)
	router := setupRouter(p)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/proxy/files/bogus", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeDownloadPropagatesUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	p := testProxy(t, 3600)
	token, err := p.Mint(upstream.URL, "Bearer x", "a.txt", 2, "")
	require.NoError(t, err)

	router := setupRouter(p)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/proxy/files/"+token, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServeDownloadUpstreamUnreachable(t *testing.T) {
	p := testProxy(t, 3600)
	// Port 1 is never listening.
	token, err := p.Mint("http://127.0.0.1:1/file", "", "a.txt", 2, "")
	require.NoError(t, err)

	router := setupRouter(p)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/proxy/files/"+token, nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
