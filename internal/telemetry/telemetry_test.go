package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/nip10/varyant/internal/config"
)

func keepGlobalProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })
}

func TestSetupDisabled(t *testing.T) {
	keepGlobalProvider(t)
	before := otel.GetMeterProvider()

	shutdown, err := Setup(context.Background(), config.Telemetry{}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetMeterProvider())
}

func TestSetupRequiresEndpoint(t *testing.T) {
	keepGlobalProvider(t)

	_, err := Setup(context.Background(), config.Telemetry{Enabled: true}, "test")
	assert.ErrorContains(t, err, "without an endpoint")
}

func TestSetupInstallsProvider(t *testing.T) {
	keepGlobalProvider(t)

	shutdown, err := Setup(context.Background(), config.Telemetry{
		Enabled:        true,
		Endpoint:       "127.0.0.1:4317",
		Insecure:       true,
		ExportInterval: time.Minute,
	}, "test")
	require.NoError(t, err)

	_, ok := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, ok, "expected the sdk provider to be global")

	// Nothing listens on the endpoint; the final flush may fail.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}
