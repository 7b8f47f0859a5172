package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, false},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, false},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, false},
		{"otlp with endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
			c.Tracing.Endpoint = "localhost:4317"
		}, true},
		{"sampling rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "stdout"
			c.Tracing.SamplingRate = 2
		}, false},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestDisabledMetricsRecordNothing(t *testing.T) {
	m := NewMetrics(MetricsConfig{})

	// Every recorder must be a no-op, not a panic.
	m.RecordEventEmitted("ResourceCreated")
	m.RecordEventDropped("bus")
	m.RecordPollCycle("demand/demand-1", "ok")
	m.RecordProposal("Initial")
	m.RecordAgreementConfirmed()
	m.RecordAgreementRejected()
	m.RecordBatch("ok", 0)
	m.SetResourcesLive("demand", 1)

	if m.Handler() != nil {
		t.Fatal("expected no handler when disabled")
	}
}

func TestEnabledMetricsExposeCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, ListenAddress: "localhost:0", Namespace: "gridnode"})

	m.RecordAgreementConfirmed()
	m.RecordProposal("Initial")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "gridnode_agreements_confirmed_total 1") {
		t.Fatalf("missing confirmed counter in:\n%s", body)
	}
	if !strings.Contains(body, `gridnode_proposals_observed_total{state="Initial"} 1`) {
		t.Fatalf("missing proposal counter in:\n%s", body)
	}
}
