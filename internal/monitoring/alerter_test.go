package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ballot-research/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
		CostThresholdUSD:     25.0,
	})

	snap := &MetricsSnapshot{
		Runs:         7,
		Researched:   100,
		Failed:       5,
		FailRate:     0.05,
		CostUSD:      10.0,
		LookbackDays: 7,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
		CostThresholdUSD:     25.0,
	})

	snap := &MetricsSnapshot{
		Researched:   20,
		Failed:       8,
		FailRate:     0.4,
		CostUSD:      5.0,
		LookbackDays: 7,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "8 failed / 20 researched")
}

func TestAlerter_Evaluate_AbortedRuns(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.30})

	snap := &MetricsSnapshot{
		Runs:         3,
		AbortedRuns:  1,
		LookbackDays: 7,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertAbortedRuns, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "1 update run(s) aborted")
}

func TestAlerter_Evaluate_NeedsAttention(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.30})

	snap := &MetricsSnapshot{
		NeedsAttention: []string{"democrat/Governor", "republican/Auditor"},
		LookbackDays:   7,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNeedsAttention, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "democrat/Governor, republican/Auditor")
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.30,
		CostThresholdUSD:     25.0,
	})

	snap := &MetricsSnapshot{
		Researched:   50,
		Failed:       2,
		FailRate:     0.04,
		CostUSD:      31.5,
		LookbackDays: 7,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$31.50")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     10.0,
	})

	snap := &MetricsSnapshot{
		Runs:           4,
		AbortedRuns:    1,
		Researched:     20,
		Failed:         10,
		FailRate:       0.5,
		CostUSD:        30.0,
		NeedsAttention: []string{"democrat/Governor"},
		LookbackDays:   7,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 4)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertFailureRate])
	assert.True(t, types[AlertAbortedRuns])
	assert.True(t, types[AlertNeedsAttention])
	assert.True(t, types[AlertCostOverrun])
}

func TestAlerter_Evaluate_MinimumResearched(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     25.0,
	})

	// Only 3 races researched, below the sample minimum.
	snap := &MetricsSnapshot{
		Researched:   3,
		Failed:       2,
		FailRate:     0.666,
		LookbackDays: 7,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertCostOverrun, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_Evaluate_ZeroCostThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		CostThresholdUSD: 0, // disabled
	})

	snap := &MetricsSnapshot{
		CostUSD:      999.0,
		LookbackDays: 7,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}
