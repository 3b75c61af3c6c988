package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		wantSpans bool
	}{
		{name: "disabled by default", cfg: Config{}},
		{name: "explicit none", cfg: Config{Exporter: ExporterNone}},
		{name: "stdout", cfg: Config{Exporter: ExporterStdout, ServiceName: "promptprop-test"}, wantSpans: true},
		{name: "unknown exporter", cfg: Config{Exporter: "jaeger"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			shutdown, err := Setup(tt.cfg, &buf)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unknown trace exporter")
				return
			}
			require.NoError(t, err)

			_, span := otel.Tracer("telemetry-test").Start(context.Background(), "optimize")
			span.End()
			require.NoError(t, shutdown(context.Background()))

			if tt.wantSpans {
				assert.Contains(t, buf.String(), `"Name":"optimize"`)
				assert.Contains(t, buf.String(), "promptprop-test")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}
