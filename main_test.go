package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elizastream/server/config"
	"github.com/elizastream/server/history"
	"github.com/elizastream/server/persona"
	"github.com/elizastream/server/rpc"
)

const testToken = "admin-secret"

func newTestServer(t *testing.T) (*httptest.Server, *config.Config) {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ADMIN_TOKEN", testToken)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := config.Load("")
	require.NoError(t, err)

	prompts, err := persona.NewStore("")
	require.NoError(t, err)

	room := newRoom(cfg, prompts)
	_, err = room.Announce("welcome to the stream", history.MoodHappy)
	require.NoError(t, err)

	srv := httptest.NewServer(newHandler(cfg, room))
	t.Cleanup(func() {
		srv.Close()
		room.Close()
	})
	return srv, cfg
}

func TestHealthAndPing(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.URL + "/api/ping")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/history")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/history", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPreflightSkipsAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/clear", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHistoryCommand(t *testing.T) {
	srv, _ := newTestServer(t)

	var out bytes.Buffer
	cmd := newHistoryCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--addr", srv.URL, "--token", testToken})
	require.NoError(t, cmd.Execute())

	require.Contains(t, out.String(), "welcome to the stream")
	require.Contains(t, out.String(), "1 events, 0 viewers")
}

func TestHistoryCommand_BadToken(t *testing.T) {
	srv, _ := newTestServer(t)

	cmd := newHistoryCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", srv.URL, "--token", "wrong"})
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestClearCommand(t *testing.T) {
	srv, _ := newTestServer(t)

	var out bytes.Buffer
	cmd := newClearCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--addr", srv.URL, "--token", testToken})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "Chat history cleared")

	out.Reset()
	historyCmd := newHistoryCmd()
	historyCmd.SetOut(&out)
	historyCmd.SetArgs([]string{"--addr", srv.URL, "--token", testToken})
	require.NoError(t, historyCmd.Execute())
	require.Contains(t, out.String(), "0 events")
}

func TestRenderHistory(t *testing.T) {
	var out bytes.Buffer
	renderHistory(&out, rpc.HistorySnapshotResult{
		ChatHistory: []history.Event{
			{ID: 1, Kind: history.KindParticipant, Username: "ab12cd34", Content: "hello"},
			{ID: 2, Kind: history.KindResponder, Username: "eliza", RespondingTo: "ab12cd34", Mood: history.MoodHappy, Content: "hey there"},
		},
		Viewers: 2,
	})

	require.Contains(t, out.String(), "eliza -> ab12cd34")
	require.Contains(t, out.String(), "happy")
	require.Contains(t, out.String(), "2 events, 2 viewers")
}

func TestPrintBanner_NotTerminal(t *testing.T) {
	var out bytes.Buffer
	printBanner(&out, "https://example.com/chat")
	require.Contains(t, out.String(), "https://example.com/chat")
}
