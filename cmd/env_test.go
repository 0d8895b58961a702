//go:build !integration

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ballot-research/internal/config"
	"github.com/sells-group/ballot-research/internal/store"
	"github.com/sells-group/ballot-research/internal/update"
)

func TestNewResearchService(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{provider: "anthropic", want: "anthropic"},
		{provider: "perplexity", want: "perplexity"},
		{provider: "openai", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c := &config.Config{
				Research:   config.ResearchConfig{Provider: tt.provider},
				Anthropic:  config.AnthropicConfig{Key: "sk-test", Model: "claude-sonnet-4-5"},
				Perplexity: config.PerplexityConfig{Key: "pplx-test", Model: "sonar-pro"},
			}
			svc, err := newResearchService(c)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported research provider")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, svc.Name())
		})
	}
}

func TestNewUpdateEnv_BadCutoff(t *testing.T) {
	c := testConfig()
	c.Election.CutoffDate = "November 3rd"

	_, err := newUpdateEnv(c, store.NewMemory(), &stubService{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cutoff_date")
}

func TestCheckAfterRun_SendsAbortAlert(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	st := store.NewMemory()
	today := time.Now().UTC()
	log := update.UpdateLog{Runs: []update.RunRecord{{RunID: "r1", Kind: "daily", Aborted: true}}}
	require.NoError(t, store.PutJSON(ctx, st, store.UpdateLogKey(today), log, 0))

	c := &config.Config{Monitoring: config.MonitoringConfig{WebhookURL: srv.URL, LookbackDays: 1, FailureRateThreshold: 0.5}}
	checkAfterRun(ctx, c, st)

	assert.Equal(t, int32(1), hits.Load())
}

func TestCheckAfterRun_NoWebhook(t *testing.T) {
	// Nothing to read or send; must not touch the store.
	checkAfterRun(context.Background(), &config.Config{}, nil)
}
