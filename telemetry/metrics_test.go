package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestMetricsInitialized(t *testing.T) {
	Init()

	if MagickInvocations == nil || MagickDuration == nil {
		t.Fatal("magick metrics not initialized")
	}
	if GuildsRegistered == nil || GuildsPruned == nil || GuildsRepaired == nil {
		t.Fatal("guild counters not initialized")
	}
	if RelayPosts == nil {
		t.Fatal("relay counter not initialized")
	}
	// second call must not panic on duplicate registration
	Init()
}

func TestObserveMagick(t *testing.T) {
	Init()

	okBefore := counterValue(t, MagickInvocations.WithLabelValues("buffer", "ok"))
	errBefore := counterValue(t, MagickInvocations.WithLabelValues("buffer", "error"))

	ObserveMagick("buffer", 20*time.Millisecond, nil)
	ObserveMagick("buffer", 5*time.Millisecond, errors.New("boom"))

	if got := counterValue(t, MagickInvocations.WithLabelValues("buffer", "ok")); got != okBefore+1 {
		t.Errorf("ok count = %v, want %v", got, okBefore+1)
	}
	if got := counterValue(t, MagickInvocations.WithLabelValues("buffer", "error")); got != errBefore+1 {
		t.Errorf("error count = %v, want %v", got, errBefore+1)
	}
}

func TestCountHelpers(t *testing.T) {
	Init()

	before := counterValue(t, CommandInvocations.WithLabelValues("ping"))
	CountCommand("ping")
	if got := counterValue(t, CommandInvocations.WithLabelValues("ping")); got != before+1 {
		t.Errorf("ping count = %v, want %v", got, before+1)
	}

	CountRelay("post", "duplicate")
	SetGuilds(3)
	SetRelayActive(true)
	SetRelayActive(false)
	Inc(GuildsPruned)
	Inc(nil)
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Fatalf("empty context correlation = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Fatalf("GetCorrelation = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("LoggerWithCorr returned nil")
	}
}
