package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-jstimer"
)

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelDebug, level)

	level, err = parseLevel("err")
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelError, level)

	_, err = parseLevel("verbose")
	assert.Error(t, err)
}

func TestNewRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jstimer.NewMetrics("jstimer")
	reg.MustRegister(metrics)

	timers, err := jstimer.New(jstimer.WithMetrics(metrics))
	require.NoError(t, err)
	t.Cleanup(func() { _ = timers.Shutdown(context.Background()) })

	_, err = timers.SetTimeout(func() {}, 60_000)
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(reg, timers))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/timers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats jstimer.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, jstimer.Stats{Timeouts: 1}, stats)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `jstimer_routines_active{kind="timeout"} 1`), string(body))
}
