package telemetry

import (
	"context"
	"testing"

	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{ServiceName: "camstream"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestNewResource(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		wantVersion string
	}{
		{"with version", Options{ServiceName: "camstream", ServiceVersion: "1.2.0"}, "1.2.0"},
		{"without version", Options{ServiceName: "camstream"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newResource(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("newResource failed: %v", err)
			}
			set := res.Set()
			if v, ok := set.Value(semconv.ServiceNameKey); !ok || v.AsString() != "camstream" {
				t.Errorf("service.name = %v, %v", v.AsString(), ok)
			}
			v, ok := set.Value(semconv.ServiceVersionKey)
			if tt.wantVersion == "" && ok {
				t.Errorf("unexpected service.version %q", v.AsString())
			}
			if tt.wantVersion != "" && v.AsString() != tt.wantVersion {
				t.Errorf("service.version = %q, want %q", v.AsString(), tt.wantVersion)
			}
		})
	}
}
