package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeHealthURL_SuccessBelow500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound) // 404, below the 500 cutoff
	}))
	defer srv.Close()

	err := ProbeHealthURL(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
}

func TestProbeHealthURL_FailsAt500AndAbove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := ProbeHealthURL(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
}

func TestProbeHealthURL_UnreachableIsError(t *testing.T) {
	err := ProbeHealthURL(context.Background(), http.DefaultClient, "http://127.0.0.1:1")
	require.Error(t, err)
}
