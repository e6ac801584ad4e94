package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/geo"
)

func TestBridge_ServesFreshSample(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	b := New(func() time.Time { return now }, time.Minute)

	_, err := b.CurrentPosition(context.Background())
	assert.ErrorIs(t, err, engine.ErrPositionUnavailable, "no sample yet")

	b.Report(geo.Position{Lat: 52.52, Lng: 13.405, AccuracyMeters: 10})
	pos, err := b.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 52.52, pos.Lat)

	// Within the bound the sample keeps serving.
	now = now.Add(59 * time.Second)
	_, err = b.CurrentPosition(context.Background())
	assert.NoError(t, err)

	// Past it, unavailable beats stale.
	now = now.Add(2 * time.Second)
	_, err = b.CurrentPosition(context.Background())
	assert.ErrorIs(t, err, engine.ErrPositionUnavailable)
}

func TestBridge_TracksMonitoredRegions(t *testing.T) {
	b := New(time.Now, 0)

	require.NoError(t, b.StartRegionMonitoring([]geo.Fence{{ID: "site-a"}, {ID: "site-b"}}))
	assert.Len(t, b.Monitoring(), 2)

	require.NoError(t, b.StopRegionMonitoring())
	assert.Empty(t, b.Monitoring())
}
