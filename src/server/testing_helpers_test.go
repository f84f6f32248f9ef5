package server

import (
	"encoding/json"
	"io"
	"testing"

	"trading-hub/src/config"
	"trading-hub/src/logger"
	"trading-hub/src/metrics"
	"trading-hub/src/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func testConfig() *models.MConfig {
	return config.Default().MConfig
}

func newTestHub(t *testing.T, cfg *models.MConfig) (*Hub, *metrics.Metrics, *clockwork.FakeClock) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	clock := clockwork.NewFakeClock()
	m := metrics.NewNop()
	log := logger.NewLoggerWithWriter(cfg, "hub", io.Discard)
	return NewHub(cfg, log, m, clock), m, clock
}

// drain returns every frame queued on c so far.
func drain(t *testing.T, c *Connection) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case raw := <-c.Outbound():
			var f frame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func types(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

// checkInvariants verifies the registry's two views agree.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	for topic, subs := range r.topics {
		require.NotEmpty(t, subs, "topic %q has an empty subscriber set", topic)
		for id, c := range subs {
			live, ok := r.conns[id]
			require.True(t, ok, "topic %q lists removed connection %s", topic, id)
			require.Same(t, live, c)
			_, has := c.topics[topic]
			require.True(t, has, "connection %s missing topic %q", id, topic)
		}
	}
	for id, c := range r.conns {
		for topic := range c.topics {
			_, ok := r.topics[topic][id]
			require.True(t, ok, "index for %q missing connection %s", topic, id)
		}
	}
}
