package telemetry_test

import (
	"context"
	"testing"

	"github.com/credbroker/broker/internal/config"
	"github.com/credbroker/broker/internal/telemetry"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), config.TelemetryConfig{Enabled: false}, "test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}
