package normalize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/track-server/track-server-pro/internal/directory"
	"github.com/track-server/track-server-pro/internal/models"
	"github.com/track-server/track-server-pro/internal/storage"
	"github.com/track-server/track-server-pro/pkg/status"
)

const (
	testAccount = "acme"
	testDevice  = "truck1"
	testIMEI    = "123451042191239"
)

func newTestStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, &models.Account{
		AccountID: testAccount,
		IsActive:  true,
	}))
	device := &models.Device{
		DeviceID: testDevice,
		UniqueID: "imei_" + testIMEI,
		IsActive: true,
	}
	device.AccountID = testAccount
	require.NoError(t, store.CreateDevice(ctx, device))
	return store
}

func resolveTestDevice(t *testing.T, store *storage.MemoryStore) *directory.Resolved {
	t.Helper()
	resolver := directory.NewResolver(store, []string{"imei_"}, "test")
	dev, err := resolver.ByUniqueID(context.Background(), testIMEI)
	require.NoError(t, err)
	return dev
}

func allEvents(t *testing.T, store *storage.MemoryStore) []*models.Event {
	t.Helper()
	events, _, err := store.ListEvents(context.Background(),
		testAccount, testDevice, time.Time{}, time.Time{}, 1000, 0)
	require.NoError(t, err)
	return events
}

func TestProcessStoresLocationEvent(t *testing.T) {
	store := newTestStore(t)
	dev := resolveTestDevice(t, store)
	n := New(store, nil, Config{})

	draft := &Draft{
		Timestamp:  1310162594,
		Latitude:   41.0627,
		Longitude:  -142.7491,
		GPSValid:   true,
		SpeedKPH:   45.5,
		HeadingDeg: 130,
	}
	require.NoError(t, n.Process(context.Background(), dev, draft))

	events := allEvents(t, store)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, status.Location, ev.StatusCode)
	assert.Equal(t, int64(1310162594), ev.Timestamp)
	assert.True(t, ev.GPSValid)
	assert.InDelta(t, 45.5, ev.SpeedKPH, 0.001)

	// last-known state written back in one batch
	stored, err := store.GetDevice(context.Background(), testAccount, testDevice)
	require.NoError(t, err)
	assert.InDelta(t, 41.0627, stored.LastValidLatitude, 0.0001)
	assert.Equal(t, int64(1310162594), stored.LastValidTimestamp)
	assert.Equal(t, status.Location, stored.LastEventStatus)
}

func TestProcessRepairsTimestamp(t *testing.T) {
	store := newTestStore(t)
	dev := resolveTestDevice(t, store)
	n := New(store, nil, Config{})

	before := time.Now().UTC().Unix()
	require.NoError(t, n.Process(context.Background(), dev, &Draft{
		Timestamp: 0,
		Latitude:  41.0, Longitude: -142.0, GPSValid: true,
	}))

	events := allEvents(t, store)
	require.Len(t, events, 1)
	assert.GreaterOrEqual(t, events[0].Timestamp, before)
}

func TestProcessInvalidFixZeroed(t *testing.T) {
	store := newTestStore(t)
	dev := resolveTestDevice(t, store)
	n := New(store, nil, Config{})

	require.NoError(t, n.Process(context.Background(), dev, &Draft{
		Timestamp: 1000000000,
		Latitude:  95.0, Longitude: 10.0, GPSValid: true,
	}))

	events := allEvents(t, store)
	require.Len(t, events, 1)
	assert.False(t, events[0].GPSValid)
	assert.Zero(t, events[0].Latitude)
	assert.Zero(t, events[0].Longitude)

	// an invalid fix never advances last-valid state
	stored, _ := store.GetDevice(context.Background(), testAccount, testDevice)
	assert.Zero(t, stored.LastValidTimestamp)
}

func TestProcessSpeedFloor(t *testing.T) {
	store := newTestStore(t)
	dev := resolveTestDevice(t, store)
	n := New(store, nil, Config{MinimumSpeedKPH: 4.0})

	// 0.08 knots of GPS jitter while parked
	require.NoError(t, n.Process(context.Background(), dev, &Draft{
		Timestamp: 1310162594,
		Latitude:  41.0627, Longitude: -142.7491, GPSValid: true,
		SpeedKPH: 0.148, HeadingDeg: 212.0,
	}))

	events := allEvents(t, store)
	require.Len(t, events, 1)
	assert.Zero(t, events[0].SpeedKPH)
	assert.Zero(t, events[0].HeadingDeg)
}

func TestProcessEstimatesHeading(t *testing.T) {
	store := newTestStore(t)
	dev := resolveTestDevice(t, store)
	n := New(store, nil, Config{})

	// first fix establishes the previous point
	require.NoError(t, n.Process(context.Background(), dev, &Draft{
		Timestamp: 1000, Latitude: 40.0, Longitude: -100.0, GPSValid: true,
		SpeedKPH: 50, HeadingDeg: -1,
	}))
	// second fix due north, no heading reported
	require.NoError(t, n.Process(context.Background(), dev, &Draft{
		Timestamp: 2000, Latitude: 41.0, Longitude: -100.0, GPSValid: true,
		SpeedKPH: 50, HeadingDeg: -1,
	}))

	events := allEvents(t, store)
	require.Len(t, events, 2)
	assert.InDelta(t, 0.0, events[1].HeadingDeg, 0.5)
}

func TestProcessOdometer(t *testing.T) {
	ctx := context.Background()

	t.Run("plausible report wins", func(t *testing.T) {
		store := newTestStore(t)
		dev := resolveTestDevice(t, store)
		n := New(store, nil, Config{})

		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 1000, Latitude: 40, Longitude: -100, GPSValid: true,
			OdometerKM: 1234.5,
		}))

		events := allEvents(t, store)
		require.Len(t, events, 1)
		assert.InDelta(t, 1234.5, events[0].OdometerKM, 0.001)

		stored, _ := store.GetDevice(ctx, testAccount, testDevice)
		assert.InDelta(t, 1234.5, stored.LastOdometerKM, 0.001)
	})

	t.Run("rollback and garbage ignored", func(t *testing.T) {
		store := newTestStore(t)
		dev := resolveTestDevice(t, store)
		dev.Device.LastOdometerKM = 5000
		n := New(store, nil, Config{})

		// odometer went backwards
		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 1000, Latitude: 40, Longitude: -100, GPSValid: true,
			OdometerKM: 4000,
		}))
		// odometer absurdly large
		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 2000, Latitude: 40, Longitude: -100, GPSValid: true,
			OdometerKM: models.MaxOdometerKM + 1,
		}))

		events := allEvents(t, store)
		require.Len(t, events, 2)
		assert.InDelta(t, 5000, events[0].OdometerKM, 0.001)
		assert.InDelta(t, 5000, events[1].OdometerKM, 0.001)
	})

	t.Run("estimated from travel distance", func(t *testing.T) {
		store := newTestStore(t)
		dev := resolveTestDevice(t, store)
		dev.Device.LastOdometerKM = 100
		dev.Device.LastValidLatitude = 40.0
		dev.Device.LastValidLongitude = -100.0
		n := New(store, nil, Config{EstimateOdometer: true})

		// one degree of latitude, about 111 km
		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 1000, Latitude: 41.0, Longitude: -100.0, GPSValid: true,
		}))

		events := allEvents(t, store)
		require.Len(t, events, 1)
		assert.InDelta(t, 211.2, events[0].OdometerKM, 1.0)
	})
}

func TestProcessIdempotentInsert(t *testing.T) {
	store := newTestStore(t)
	dev := resolveTestDevice(t, store)
	n := New(store, nil, Config{})

	draft := Draft{
		Timestamp: 1310162594,
		Latitude:  41.0, Longitude: -142.0, GPSValid: true,
		SpeedKPH: 10,
	}
	first := draft
	require.NoError(t, n.Process(context.Background(), dev, &first))

	// same record retransmitted with a different speed overwrites in place
	second := draft
	second.SpeedKPH = 20
	require.NoError(t, n.Process(context.Background(), dev, &second))

	events := allEvents(t, store)
	require.Len(t, events, 1)
	assert.InDelta(t, 20.0, events[0].SpeedKPH, 0.001)
}

func TestProcessStatusResolution(t *testing.T) {
	ctx := context.Background()
	codes := status.NewCodeMap(map[string]int{
		"help me": status.PanicOn,
		"lt":      status.Ignore,
		"ping":    status.None,
	})

	t.Run("mapped code", func(t *testing.T) {
		store := newTestStore(t)
		dev := resolveTestDevice(t, store)
		n := New(store, nil, Config{StatusCodes: codes})

		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 1000, Latitude: 40, Longitude: -100, GPSValid: true,
			EventCode: "help me",
		}))
		events := allEvents(t, store)
		require.Len(t, events, 1)
		assert.Equal(t, status.PanicOn, events[0].StatusCode)
	})

	t.Run("ignore drops the event", func(t *testing.T) {
		store := newTestStore(t)
		dev := resolveTestDevice(t, store)
		n := New(store, nil, Config{StatusCodes: codes})

		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 1000, Latitude: 40, Longitude: -100, GPSValid: true,
			EventCode: "lt",
		}))
		assert.Empty(t, allEvents(t, store))
	})

	t.Run("none resolves by speed", func(t *testing.T) {
		store := newTestStore(t)
		dev := resolveTestDevice(t, store)
		n := New(store, nil, Config{StatusCodes: codes})

		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 1000, Latitude: 40, Longitude: -100, GPSValid: true,
			EventCode: "ping", SpeedKPH: 30,
		}))
		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 2000, Latitude: 40, Longitude: -100, GPSValid: true,
			EventCode: "ping",
		}))

		events := allEvents(t, store)
		require.Len(t, events, 2)
		assert.Equal(t, status.MotionInMotion, events[0].StatusCode)
		assert.Equal(t, status.Location, events[1].StatusCode)
	})

	t.Run("numeric code passthrough", func(t *testing.T) {
		store := newTestStore(t)
		dev := resolveTestDevice(t, store)
		n := New(store, nil, Config{})

		code := status.BatteryLow
		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 1000, Latitude: 40, Longitude: -100, GPSValid: true,
			StatusCode: &code,
		}))
		events := allEvents(t, store)
		require.Len(t, events, 1)
		assert.Equal(t, status.BatteryLow, events[0].StatusCode)
	})

	t.Run("location promoted when moving", func(t *testing.T) {
		store := newTestStore(t)
		dev := resolveTestDevice(t, store)
		n := New(store, nil, Config{LocationInMotion: true})

		require.NoError(t, n.Process(ctx, dev, &Draft{
			Timestamp: 1000, Latitude: 40, Longitude: -100, GPSValid: true,
			SpeedKPH: 60,
		}))
		events := allEvents(t, store)
		require.Len(t, events, 1)
		assert.Equal(t, status.MotionInMotion, events[0].StatusCode)
	})
}

func TestProcessDropInvalidLocation(t *testing.T) {
	store := newTestStore(t)
	dev := resolveTestDevice(t, store)
	n := New(store, nil, Config{DropInvalidLocation: true})

	require.NoError(t, n.Process(context.Background(), dev, &Draft{
		Timestamp: 1000, GPSValid: false,
	}))
	assert.Empty(t, allEvents(t, store))

	// non-location statuses are kept even without a fix
	code := status.PanicOn
	require.NoError(t, n.Process(context.Background(), dev, &Draft{
		Timestamp: 2000, GPSValid: false, StatusCode: &code,
	}))
	events := allEvents(t, store)
	require.Len(t, events, 1)
	assert.Equal(t, status.PanicOn, events[0].StatusCode)
}

func TestProcessZoneTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	zone := &models.Geozone{
		GeozoneID:       "depot",
		CenterLatitude:  40.0,
		CenterLongitude: -100.0,
		RadiusMeters:    500,
		ArrivalZone:     true,
		DepartureZone:   true,
		IsActive:        true,
	}
	zone.AccountID = testAccount
	require.NoError(t, store.CreateGeozone(ctx, zone))

	dev := resolveTestDevice(t, store)
	n := New(store, nil, Config{SimulateGeozones: true})

	// establish a previous fix well outside the zone
	require.NoError(t, n.Process(ctx, dev, &Draft{
		Timestamp: 1000, Latitude: 41.0, Longitude: -100.0, GPSValid: true,
	}))

	// cross into the zone
	require.NoError(t, n.Process(ctx, dev, &Draft{
		Timestamp: 2000, Latitude: 40.0, Longitude: -100.0, GPSValid: true,
	}))

	// and back out
	require.NoError(t, n.Process(ctx, dev, &Draft{
		Timestamp: 3000, Latitude: 41.0, Longitude: -100.0, GPSValid: true,
	}))

	events := allEvents(t, store)
	require.Len(t, events, 5)

	arrive, err := store.GetEvent(ctx, testAccount, testDevice, 1999, status.GeofenceArrive)
	require.NoError(t, err)
	assert.Equal(t, "depot", arrive.GeozoneID)

	depart, err := store.GetEvent(ctx, testAccount, testDevice, 2998, status.GeofenceDepart)
	require.NoError(t, err)
	assert.Equal(t, "depot", depart.GeozoneID)
}

func TestProcessZoneSuppressesDuplicatePrimary(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	zone := &models.Geozone{
		GeozoneID:       "depot",
		CenterLatitude:  40.0,
		CenterLongitude: -100.0,
		RadiusMeters:    500,
		ArrivalZone:     true,
		IsActive:        true,
	}
	zone.AccountID = testAccount
	require.NoError(t, store.CreateGeozone(ctx, zone))

	dev := resolveTestDevice(t, store)
	codes := status.NewCodeMap(map[string]int{"stockade": status.GeofenceArrive})
	n := New(store, nil, Config{SimulateGeozones: true, StatusCodes: codes})

	require.NoError(t, n.Process(ctx, dev, &Draft{
		Timestamp: 1000, Latitude: 41.0, Longitude: -100.0, GPSValid: true,
	}))

	// the device reports its own arrive code while crossing in; only the
	// synthesized transition is kept
	require.NoError(t, n.Process(ctx, dev, &Draft{
		Timestamp: 2000, Latitude: 40.0, Longitude: -100.0, GPSValid: true,
		EventCode: "stockade",
	}))

	events := allEvents(t, store)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1999), events[1].Timestamp)
	assert.Equal(t, status.GeofenceArrive, events[1].StatusCode)
}

func TestProcessInputTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dev := resolveTestDevice(t, store)
	n := New(store, nil, Config{SimulateInputsMask: 0x000F})

	mask := uint32(0x3)
	require.NoError(t, n.Process(ctx, dev, &Draft{
		Timestamp: 1000, Latitude: 40, Longitude: -100, GPSValid: true,
		InputMask: &mask,
	}))

	events := allEvents(t, store)
	require.Len(t, events, 3)
	assert.Equal(t, status.Location, events[0].StatusCode)
	assert.Equal(t, status.InputStatusCode(0, true), events[1].StatusCode)
	assert.Equal(t, status.InputStatusCode(1, true), events[2].StatusCode)

	stored, _ := store.GetDevice(ctx, testAccount, testDevice)
	assert.Equal(t, uint32(0x3), stored.LastInputState)

	// bit 1 drops, bit 4 flips but is outside the configured mask
	mask2 := uint32(0x11)
	require.NoError(t, n.Process(ctx, dev, &Draft{
		Timestamp: 2000, Latitude: 40, Longitude: -100, GPSValid: true,
		InputMask: &mask2,
	}))

	events = allEvents(t, store)
	require.Len(t, events, 5)
	assert.Equal(t, status.InputStatusCode(1, false), events[4].StatusCode)
}

func TestProcessContinuesAfterUnchangedInputs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dev := resolveTestDevice(t, store)
	dev.Device.LastInputState = 0x3
	n := New(store, nil, Config{SimulateInputsMask: 0xFFFF})

	mask := uint32(0x3)
	require.NoError(t, n.Process(ctx, dev, &Draft{
		Timestamp: 1000, Latitude: 40, Longitude: -100, GPSValid: true,
		InputMask: &mask,
	}))

	// no edges, just the primary
	events := allEvents(t, store)
	require.Len(t, events, 1)
	assert.Equal(t, status.Location, events[0].StatusCode)
}
