package flighttracker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hut8/soar/internal/fsutil"
	"github.com/hut8/soar/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeFlightStore struct {
	opened  []*model.Flight
	closed  []string
	updated []*model.Flight
	nextID  int
}

func (f *fakeFlightStore) OpenFlight(ctx context.Context, fl *model.Flight) (string, error) {
	f.nextID++
	id := "flight-" + string(rune('0'+f.nextID))
	f.opened = append(f.opened, fl)
	return id, nil
}

func (f *fakeFlightStore) UpdateFlight(ctx context.Context, fl *model.Flight) error {
	f.updated = append(f.updated, fl)
	return nil
}

func (f *fakeFlightStore) CloseFlight(ctx context.Context, id string, landingTime, endTime time.Time, landingLocID *string) error {
	f.closed = append(f.closed, id)
	return nil
}

type noopLocations struct{}

func (noopLocations) NearestAirport(lat, lon float64) (string, bool)        { return "", false }
func (noopLocations) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) { return "", nil }

func fix(deviceID string, lat, lon float64, onGround bool, speed float32, t time.Time) model.Fix {
	s := speed
	return model.Fix{DeviceID: deviceID, Latitude: lat, Longitude: lon, OnGround: onGround, GroundSpeedKts: &s, ReceivedAt: t}
}

func TestUnknownToAirborneOpensFlightWithNoTakeoffTime(t *testing.T) {
	store := &fakeFlightStore{}
	tr := New(Config{}, store, noopLocations{}, nil, nil, Counters{})

	now := time.Now()
	err := tr.ProcessFix(context.Background(), fix("DEV1", 45, -122, false, 80, now))
	require.NoError(t, err)
	require.Len(t, store.opened, 1)
	require.Nil(t, store.opened[0].TakeoffTime, "a flight discovered already airborne has no known takeoff time")
}

func TestGroundToAirborneRecordsTakeoffTime(t *testing.T) {
	store := &fakeFlightStore{}
	tr := New(Config{}, store, noopLocations{}, nil, nil, Counters{})
	now := time.Now()

	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV2", 45, -122, true, 0, now)))
	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV2", 45, -122, false, 60, now.Add(time.Second))))

	require.Len(t, store.opened, 1)
	require.NotNil(t, store.opened[0].TakeoffTime)
}

func TestAirborneToGroundBelowTaxiThresholdClosesFlight(t *testing.T) {
	store := &fakeFlightStore{}
	tr := New(Config{}, store, noopLocations{}, nil, nil, Counters{})
	now := time.Now()

	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV3", 45, -122, false, 80, now)))
	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV3", 45.01, -122, true, 2, now.Add(time.Minute))))

	require.Len(t, store.closed, 1)
}

func TestAirborneToGroundAboveTaxiThresholdStaysOpen(t *testing.T) {
	store := &fakeFlightStore{}
	tr := New(Config{}, store, noopLocations{}, nil, nil, Counters{})
	now := time.Now()

	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV4", 45, -122, false, 80, now)))
	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV4", 45.01, -122, true, 20, now.Add(time.Minute))))

	require.Len(t, store.closed, 0, "on_ground with speed above the taxi threshold must not be treated as a landing")
	require.Len(t, store.updated, 1)
	require.Equal(t, model.FlightOpenGround, store.updated[0].State, "a rollout above taxi speed marks the open flight grounded")
}

func TestTouchAndGoReturnsFlightToOpenAirborne(t *testing.T) {
	store := &fakeFlightStore{}
	tr := New(Config{}, store, noopLocations{}, nil, nil, Counters{})
	now := time.Now()

	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV7", 45, -122, false, 80, now)))
	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV7", 45.01, -122, true, 40, now.Add(time.Minute))))
	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV7", 45.02, -122, false, 70, now.Add(2*time.Minute))))

	require.Len(t, store.opened, 1, "a touch-and-go continues the same flight, it does not open a second one")
	require.Len(t, store.closed, 0)
	require.Len(t, store.updated, 2)
	require.Equal(t, model.FlightOpenGround, store.updated[0].State)
	require.Equal(t, model.FlightOpenAirborne, store.updated[1].State)
}

func TestTimeoutCheckerForceClosesStaleFlight(t *testing.T) {
	store := &fakeFlightStore{}
	tr := New(Config{Timeout: time.Minute}, store, noopLocations{}, nil, nil, Counters{})
	now := time.Now()

	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV5", 45, -122, false, 80, now)))
	tr.checkTimeouts(context.Background(), now.Add(2*time.Minute))

	require.Len(t, store.closed, 1)
}

func TestCheckpointRoundTripRestoresOpenFlight(t *testing.T) {
	store := &fakeFlightStore{}
	fs := fsutil.NewMemoryFileSystem()
	tr := New(Config{CheckpointPath: "/state/checkpoint.json"}, store, noopLocations{}, fs, nil, Counters{})
	now := time.Now()

	require.NoError(t, tr.ProcessFix(context.Background(), fix("DEV6", 45, -122, false, 80, now)))
	require.NoError(t, tr.saveCheckpoint())

	tr2 := New(Config{CheckpointPath: "/state/checkpoint.json"}, store, noopLocations{}, fs, nil, Counters{})
	require.NoError(t, tr2.loadCheckpoint())

	id, ok := tr2.CurrentFlightID("DEV6")
	require.True(t, ok)
	require.NotEmpty(t, id)
}

func TestLoadCheckpointRejectsWrongVersionAndStaleSnapshot(t *testing.T) {
	store := &fakeFlightStore{}
	fs := fsutil.NewMemoryFileSystem()
	tr := New(Config{CheckpointPath: "/state/checkpoint.json"}, store, noopLocations{}, fs, nil, Counters{})

	wrongVersion, err := json.Marshal(checkpointFile{Version: 99, WrittenAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("/state/checkpoint.json", wrongVersion, 0o644))
	require.Error(t, tr.loadCheckpoint())

	stale, err := json.Marshal(checkpointFile{Version: checkpointVersion, WrittenAt: time.Now().Add(-25 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("/state/checkpoint.json", stale, 0o644))
	require.Error(t, tr.loadCheckpoint())
}

func TestTowDetectionLinksNearSimultaneousTakeoffs(t *testing.T) {
	store := &fakeFlightStore{}
	tr := New(Config{}, store, noopLocations{}, nil, nil, Counters{})
	now := time.Now()

	require.NoError(t, tr.ProcessFix(context.Background(), fix("GLIDER1", 45.0, -122.0, false, 60, now)))
	require.NoError(t, tr.ProcessFix(context.Background(), fix("TOWPLANE", 45.0001, -122.0001, false, 70, now.Add(time.Second))))

	require.Len(t, store.updated, 1, "the second takeoff within the tow window and radius must update towed_by")
	require.Equal(t, "GLIDER1", *store.updated[0].TowedBy)
}
