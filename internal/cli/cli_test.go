package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)

	// rootCmd is shared across subtests; clear the sticky built-in help and
	// version flags so an earlier --help/--version run does not leak into
	// this execution.
	for _, name := range []string{"help", "version"} {
		if f := rootCmd.Flags().Lookup(name); f != nil {
			f.Value.Set("false")
			f.Changed = false
		}
	}

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCLICommands(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedOutput string
	}{
		{
			name:           "help command",
			args:           []string{"--help"},
			expectedOutput: "MEV opportunity detection and execution engine",
		},
		{
			name:           "version command",
			args:           []string{"--version"},
			expectedOutput: "1.0.0",
		},
		{
			name:           "start help",
			args:           []string{"start", "--help"},
			expectedOutput: "Start the opportunity engine",
		},
		{
			name:           "status help",
			args:           []string{"status", "--help"},
			expectedOutput: "Check the current status",
		},
		{
			name:           "shutdown help",
			args:           []string{"shutdown", "--help"},
			expectedOutput: "trips the circuit breaker",
		},
		{
			name:           "reset help",
			args:           []string{"reset", "--help"},
			expectedOutput: "Re-arm one strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := executeCommand(tt.args...)
			require.NoError(t, err)
			assert.Contains(t, output, tt.expectedOutput)
		})
	}
}

// pointCLIAt routes the CLI's API base URL at a test server
func pointCLIAt(t *testing.T, srv *httptest.Server) {
	t.Helper()
	parsed, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	viper.Set("server.host", parsed.Hostname())
	viper.Set("server.port", port)
	t.Cleanup(func() {
		viper.Set("server.host", "")
		viper.Set("server.port", 0)
	})
}

func TestGetEngineStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":    "healthy",
				"uptime":    "5m0s",
				"timestamp": time.Now(),
				"armed":     map[string]bool{"arbitrage": true, "sandwich": false},
			})
		case "/api/v1/risk":
			json.NewEncoder(w).Encode(map[string]interface{}{"strategies": []interface{}{}})
		case "/api/v1/stats":
			json.NewEncoder(w).Encode(map[string]interface{}{"analyzed": 42, "detected": 3})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	pointCLIAt(t, srv)

	status, err := getEngineStatus()
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "5m0s", status.Uptime)
	assert.False(t, status.Armed["sandwich"])
	require.NotNil(t, status.Pool)
	assert.Equal(t, int64(42), status.Pool.Analyzed)
}

func TestGetEngineStatusOffline(t *testing.T) {
	viper.Set("server.host", "127.0.0.1")
	viper.Set("server.port", 1) // nothing listens here
	t.Cleanup(func() {
		viper.Set("server.host", "")
		viper.Set("server.port", 0)
	})

	status, err := getEngineStatus()
	require.NoError(t, err)
	assert.Equal(t, "offline", status.Status)
}

func TestPostAdminSendsAPIKey(t *testing.T) {
	var gotKey string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"status": "shutdown"})
	}))
	defer srv.Close()
	pointCLIAt(t, srv)

	viper.Set("server.api_key", "cli-key")
	t.Cleanup(func() { viper.Set("server.api_key", "") })

	require.NoError(t, postAdmin("/api/v1/shutdown", nil))
	assert.Equal(t, "cli-key", gotKey)
	assert.Equal(t, "/api/v1/shutdown", gotPath)
}

func TestPostAdminRequiresAPIKey(t *testing.T) {
	viper.Set("server.api_key", "")
	err := postAdmin("/api/v1/shutdown", nil)
	assert.Error(t, err)
}

func TestPostAdminSurfacesEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown strategy"})
	}))
	defer srv.Close()
	pointCLIAt(t, srv)

	viper.Set("server.api_key", "cli-key")
	t.Cleanup(func() { viper.Set("server.api_key", "") })

	err := postAdmin("/api/v1/reset", map[string]string{"strategy": "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}
