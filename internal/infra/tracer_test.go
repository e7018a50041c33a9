package infra

import (
	"context"
	"strings"
	"testing"
	"time"

	"shc-verification-service/config"
)

func TestInitTracer_Disabled(t *testing.T) {
	tr, err := InitTracer(context.Background(), &config.Config{OtelEnabled: false}, "test")
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := tr.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown of disabled tracer failed: %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased"},
	}
	for _, tt := range tests {
		desc := samplerFor(tt.rate).Description()
		if !strings.Contains(desc, tt.want) {
			t.Errorf("samplerFor(%v) = %s, want it to contain %s", tt.rate, desc, tt.want)
		}
	}
}
