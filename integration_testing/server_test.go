//go:build integration_test || all_tests

package integration_testing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/2beens/posecoach/internal/auth"
	"github.com/2beens/posecoach/internal/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// In order for 'go test' to run this suite, we need to create
// a normal test function and pass our suite to suite.Run
func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

type actionResponse struct {
	Step     int      `json:"step"`
	Locked   bool     `json:"locked"`
	Score    int      `json:"score"`
	Sessions int      `json:"sessions"`
	Streak   int      `json:"streak"`
	Badges   []string `json:"badges"`
}

func (s *IntegrationTestSuite) doRequest(ctx context.Context, method, path, body, token string) *http.Response {
	t := s.T()
	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.TokenHeader, token)
	}
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (s *IntegrationTestSuite) doLogin(ctx context.Context) string {
	t := s.T()
	loginReqJson, err := json.Marshal(auth.Credentials{
		Username: testUsername,
		Password: testPassword,
	})
	require.NoError(t, err)

	resp := s.doRequest(ctx, http.MethodPost, "/a/login", string(loginReqJson), "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token
}

func (s *IntegrationTestSuite) TestLogin() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	token := s.doLogin(ctx)

	resp := s.doRequest(ctx, http.MethodPost, "/a/login", `{"username":"testuser","password":"bad-password"}`, "")
	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error, wrong credentials", strings.TrimSpace(string(respBytes)))

	resp = s.doRequest(ctx, http.MethodGet, "/a/logout", "", token)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// token is gone after logout
	resp = s.doRequest(ctx, http.MethodPost, "/references/reload", "", token)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func (s *IntegrationTestSuite) TestAdminRoutes() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := s.doRequest(ctx, http.MethodDelete, "/progress", "", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := s.doLogin(ctx)
	resp = s.doRequest(ctx, http.MethodPost, "/references/reload", "", token)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reloadResp struct {
		Poses int      `json:"poses"`
		Names []string `json:"names"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reloadResp))
	assert.Equal(t, 1, reloadResp.Poses)
	assert.Equal(t, []string{"Pranamasana (Prayer Pose)"}, reloadResp.Names)
}

func (s *IntegrationTestSuite) TestTrainingSession() {
	t := s.T()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token := s.doLogin(ctx)
	resp := s.doRequest(ctx, http.MethodDelete, "/progress", "", token)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// watching the feed runs the pipeline, the stub estimator answers with the reference pose
	feedCtx, feedCancel := context.WithTimeout(ctx, 5*time.Second)
	resp = s.doRequest(feedCtx, http.MethodGet, "/video_feed", "", "")
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))
	firstBytes := make([]byte, 512)
	_, err := io.ReadAtLeast(resp.Body, firstBytes, len(firstBytes))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(firstBytes, []byte("--frame\r\nContent-Type: image/jpeg\r\n")))
	feedCancel()
	resp.Body.Close()

	resp = s.doRequest(ctx, http.MethodPost, "/action", `{"action":"stop"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var action actionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&action))
	resp.Body.Close()
	assert.True(t, action.Locked)
	assert.Equal(t, 100, action.Score)
	assert.Equal(t, 0, action.Sessions)

	resp = s.doRequest(ctx, http.MethodPost, "/update_progress", `{"count":1}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// stored as a jsonb document
	var document []byte
	err = s.DB.QueryRowContext(ctx, `SELECT document FROM progress WHERE id = 1`).Scan(&document)
	require.NoError(t, err)
	stored, err := progress.Parse(document)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, stored.Counts)
	assert.Equal(t, []float64{100}, stored.Accuracy)
	assert.Equal(t, 1, stored.Streak)
	assert.Equal(t, []string{"aruna"}, stored.Badges)
	require.Len(t, stored.History, 1)
	assert.Len(t, stored.History[0].ID, 26)

	resp = s.doRequest(ctx, http.MethodPost, "/action", `{"action":"retry"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	action = actionResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&action))
	resp.Body.Close()
	assert.False(t, action.Locked)
	assert.Equal(t, 1, action.Sessions)
	assert.Equal(t, 1, action.Streak)
	assert.Equal(t, []string{"aruna"}, action.Badges)
}

func (s *IntegrationTestSuite) TestProgressData() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := s.doRequest(ctx, http.MethodGet, "/progress_data", "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	p, err := progress.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, len(p.Dates), len(p.Counts), fmt.Sprintf("dates and counts out of sync: %s", body))
}

func (s *IntegrationTestSuite) TestMetricsEndpoint() {
	t := s.T()
	resp, err := s.httpClient.Get(fmt.Sprintf("http://%s:9002/metrics", serverHost))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "posecoach_main_")
	assert.Contains(t, string(body), "pgxpool_")
}
