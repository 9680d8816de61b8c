package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/payout-relay/relayer/txlog"
)

type stubStatus struct {
	resp StatusResponse
}

func (s stubStatus) Status(context.Context) StatusResponse { return s.resp }

func newTestServer(t *testing.T, status StatusProvider, opts Options) *Server {
	t.Helper()
	return NewServer(zerolog.New(zerolog.NewTestWriter(t)), status, opts)
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func writeLog(t *testing.T, entries ...txlog.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay-log.jsonl")
	w, err := txlog.Open(path)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Append(e))
	}
	require.NoError(t, w.Close())
	return path
}

func TestSetupRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	s := newTestServer(t, stubStatus{}, Options{TxLogPath: writeLog(t), Metrics: metrics})

	testCases := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"Health endpoint", http.MethodGet, "/health", http.StatusOK},
		{"Tx log endpoint", http.MethodGet, "/tx-log", http.StatusOK},
		{"Status endpoint", http.MethodGet, "/status", http.StatusOK},
		{"Metrics endpoint", http.MethodGet, "/metrics", http.StatusOK},
		{"Tx log is read only", http.MethodPost, "/tx-log", http.StatusMethodNotAllowed},
		{"Non-existent endpoint", http.MethodGet, "/api/v1/non-existent", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(s, tc.method, tc.path)
			assert.Equal(t, tc.expectedStatus, w.Code)
		})
	}
}

func TestHandleTxLog(t *testing.T) {
	t.Run("returns entries as a JSON array", func(t *testing.T) {
		path := writeLog(t,
			txlog.Entry{Buyer: "0xaa", PayoutAmount: "10", Status: "CONFIRMED", SourceTxHash: "0x01"},
			txlog.Entry{Buyer: "0xbb", PayoutAmount: "20", Status: "REJECTED", Reason: "insufficient funds"},
		)
		s := newTestServer(t, nil, Options{TxLogPath: path, CORSOrigin: "http://localhost:3000"})

		w := serve(s, http.MethodGet, "/tx-log")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET", w.Header().Get("Access-Control-Allow-Methods"))

		var got []txlog.Entry
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "CONFIRMED", got[0].Status)
		assert.Equal(t, "insufficient funds", got[1].Reason)
	})

	t.Run("empty log is an empty array", func(t *testing.T) {
		s := newTestServer(t, nil, Options{TxLogPath: writeLog(t)})
		w := serve(s, http.MethodGet, "/tx-log")
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("missing log is an empty object", func(t *testing.T) {
		s := newTestServer(t, nil, Options{TxLogPath: filepath.Join(t.TempDir(), "absent.jsonl")})
		w := serve(s, http.MethodGet, "/tx-log")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "{}", w.Body.String())
	})

	t.Run("preflight", func(t *testing.T) {
		s := newTestServer(t, nil, Options{TxLogPath: writeLog(t), CORSOrigin: "https://app.example"})
		w := serve(s, http.MethodOptions, "/tx-log")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestHandleStatus(t *testing.T) {
	height := uint64(42)
	s := newTestServer(t, stubStatus{resp: StatusResponse{
		ConnectionState: "Connected",
		Checkpoint:      &height,
		FundingAccount:  "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1",
		Payouts:         map[string]int64{"CONFIRMED": 3},
	}}, Options{})

	w := serve(s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var got StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Connected", got.ConnectionState)
	require.NotNil(t, got.Checkpoint)
	assert.Equal(t, uint64(42), *got.Checkpoint)
	assert.Equal(t, int64(3), got.Payouts["CONFIRMED"])

	t.Run("no provider", func(t *testing.T) {
		s := newTestServer(t, nil, Options{})
		w := serve(s, http.MethodGet, "/status")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestServerStartStop(t *testing.T) {
	port := freePort(t)
	s := newTestServer(t, nil, Options{Port: port})
	require.NoError(t, s.Start())

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
}

func TestServerStartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	s := newTestServer(t, nil, Options{Port: ln.Addr().(*net.TCPAddr).Port})
	err = s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind")
}
