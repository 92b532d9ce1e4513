package scrubjay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*API, *BootstrapReconciler, DBI) {
	t.Helper()
	writeDB, gdb := newTestDB(t)
	ledger := NewDeliveryLedger(writeDB, nil)
	queries := NewUndeliveredQuery(gdb, nil)
	reconciler := NewBootstrapReconciler(ledger, queries, nil, time.Minute, nil)

	notifier := newRecordingNotifier()
	dispatcher := NewDispatcher(
		newObservationStrategy(queries, 7*24*time.Hour, nil),
		ledger,
		notifier,
		24*time.Hour,
		nil,
	)

	config := DefaultConfig().API
	api := newAPI(config, reconciler, []*Dispatcher{dispatcher}, writeDB, nil)
	return api, reconciler, writeDB
}

func TestHealthCheckGatesOnBootstrap(t *testing.T) {
	api, reconciler, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, reconciler.Run(context.Background()))

	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, apiHealthCheck, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	api, reconciler, writeDB := newTestAPI(t)
	ctx := context.Background()
	require.NoError(t, reconciler.Run(ctx))

	ledger := NewDeliveryLedger(writeDB, nil)
	require.NoError(
		t,
		ledger.InsertIfAbsent(ctx, KindObservation, "sp1:S1", "c1"),
	)
	require.NoError(
		t,
		ledger.InsertIfAbsent(ctx, KindObservation, "sp1:S1", "c2"),
	)
	require.NoError(t, ledger.InsertIfAbsent(ctx, KindFeedItem, "g1", "c1"))

	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, apiPathStatus, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	require.Len(t, resp.Dispatchers, 1)
	assert.Equal(t, KindObservation, resp.Dispatchers[0].Kind)
	assert.Equal(t, int64(2), resp.Deliveries[string(KindObservation)])
	assert.Equal(t, int64(1), resp.Deliveries[string(KindFeedItem)])
}
