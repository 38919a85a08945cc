package routerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigilops/internal/common/config"
	apperrors "github.com/vigilops/vigilops/internal/common/errors"
	"github.com/vigilops/vigilops/internal/common/logger"
	v1 "github.com/vigilops/vigilops/pkg/api/v1"
)

func testClient(t *testing.T, routerURL string) *Client {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	return New(config.SandboxConfig{
		RouterURL: routerURL,
		AgentPort: 8888,
		Namespace: "test-ns",
	}, log)
}

func TestRequestsCarrySandboxIdentityHeaders(t *testing.T) {
	var got http.Header
	var gotPath string
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}))
	defer router.Close()

	c := testClient(t, router.URL)
	err := c.Health(context.Background(), "investigation-alert-42", time.Second)
	require.NoError(t, err)

	assert.Equal(t, "/health", gotPath)
	assert.Equal(t, "investigation-alert-42", got.Get("X-Sandbox-ID"))
	assert.Equal(t, "8888", got.Get("X-Sandbox-Port"))
	assert.Equal(t, "test-ns", got.Get("X-Sandbox-Namespace"))
}

func TestExecuteStreamsBody(t *testing.T) {
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req v1.ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "investigate the spike", req.Prompt)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"type\":\"result\",\"data\":{}}\n\n"))
	}))
	defer router.Close()

	c := testClient(t, router.URL)
	resp, err := c.Execute(context.Background(), "investigation-alert-42", &v1.ExecuteRequest{
		Prompt:   "investigate the spike",
		ThreadID: "alert-42",
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecuteNonOKBecomesUpstreamError(t *testing.T) {
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"detail":"agent not claimed"}`))
	}))
	defer router.Close()

	c := testClient(t, router.URL)
	_, err := c.Execute(context.Background(), "investigation-alert-42", &v1.ExecuteRequest{})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
	assert.Contains(t, appErr.Message, "agent not claimed")
}

func TestAnswerPassesThroughUpstreamRejections(t *testing.T) {
	cases := []struct {
		status int
		detail string
	}{
		{http.StatusBadRequest, "No pending question"},
		{http.StatusNotFound, "unknown thread"},
	}
	for _, tc := range cases {
		router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]string{"detail": tc.detail})
		}))

		c := testClient(t, router.URL)
		_, err := c.Answer(context.Background(), "investigation-alert-42", &v1.AnswerRequest{
			ThreadID: "alert-42",
			Answers:  map[string]any{"q-1": "production"},
		})
		require.Error(t, err)

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, tc.status, appErr.HTTPStatus)
		assert.Equal(t, tc.detail, appErr.Message)
		router.Close()
	}
}

func TestAnswerUnexpectedUpstreamStatusIsInternal(t *testing.T) {
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer router.Close()

	c := testClient(t, router.URL)
	_, err := c.Answer(context.Background(), "investigation-alert-42", &v1.AnswerRequest{
		ThreadID: "alert-42", Answers: map[string]any{},
	})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus)
}

func TestAnswerDecodesResponse(t *testing.T) {
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(v1.AnswerResponse{Status: "accepted", ThreadID: "alert-42"})
	}))
	defer router.Close()

	c := testClient(t, router.URL)
	resp, err := c.Answer(context.Background(), "investigation-alert-42", &v1.AnswerRequest{
		ThreadID: "alert-42", Answers: map[string]any{"q-1": "staging"},
	})
	require.NoError(t, err)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "alert-42", resp.ThreadID)
}

func TestClaimSendsJWT(t *testing.T) {
	var gotClaim v1.ClaimRequest
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/claim", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotClaim))
		w.Write([]byte(`{"status":"claimed"}`))
	}))
	defer router.Close()

	c := testClient(t, router.URL)
	err := c.Claim(context.Background(), "investigation-alert-42", &v1.ClaimRequest{
		SandboxJWT: "signed-jwt",
		TeamToken:  "team-token",
	})
	require.NoError(t, err)
	assert.Equal(t, "signed-jwt", gotClaim.SandboxJWT)
	assert.Equal(t, "team-token", gotClaim.TeamToken)
}

func TestHealthNon200IsError(t *testing.T) {
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer router.Close()

	c := testClient(t, router.URL)
	assert.Error(t, c.Health(context.Background(), "investigation-alert-42", time.Second))
}
