// Package normalize turns protocol-decoded event drafts into stored,
// canonical events. Every protocol handler feeds its decoded records
// through the same ordered pipeline: timestamp repair, location
// validation, speed floor, odometer resolution, geozone-transition
// synthesis, digital-input edge detection, status-code resolution and
// finally the idempotent insert.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/track-server/track-server-pro/internal/directory"
	"github.com/track-server/track-server-pro/internal/models"
	"github.com/track-server/track-server-pro/internal/storage"
	"github.com/track-server/track-server-pro/pkg/geo"
	"github.com/track-server/track-server-pro/pkg/status"
)

// Draft is a protocol-decoded event before normalization. Handlers fill
// in whatever their wire format carries; absent numeric fields use the
// documented sentinel values.
type Draft struct {
	Timestamp int64 // UTC seconds, <= 0 means unknown

	// EventCode is the device-family event code as decoded off the wire
	// ("help me", "lt", a hex byte rendered as text). Empty means the
	// protocol has no event-code concept and the record is a plain fix.
	EventCode string

	// StatusCode is a decoder-supplied status code for protocols whose
	// wire format already speaks the canonical code space. Ignored when
	// EventCode is set; nil means not supplied.
	StatusCode *int

	Latitude  float64
	Longitude float64
	GPSValid  bool // decoder-level fix validity (e.g. NMEA "A" vs "V")

	SpeedKPH   float64 // < 0 means not reported
	HeadingDeg float64 // < 0 means not reported
	AltitudeM  float64
	OdometerKM float64 // <= 0 means not reported

	InputMask *uint32 // nil means the protocol carries no input state

	Satellites int
	HDOP       float64
	GPSAgeSec  int

	RawData string
}

// Config carries the per-protocol normalization policy, typically built
// from the listener's protocol section in the server config.
type Config struct {
	MinimumSpeedKPH  float64
	EstimateOdometer bool
	SimulateGeozones bool

	// SimulateInputsMask selects which input bits participate in edge
	// detection; zero disables input events entirely.
	SimulateInputsMask uint32

	// LocationInMotion promotes plain Location events to MotionInMotion
	// when the device is moving.
	LocationInMotion bool

	// DropInvalidLocation discards plain location reports whose fix is
	// invalid instead of storing them with gpsValid=false.
	DropInvalidLocation bool

	StatusCodes status.CodeMap
}

// Normalizer runs drafts through the pipeline and persists the results.
// A nil NATS connection disables publishing; storage failures are logged
// and never abort the remainder of a record's synthetic events.
type Normalizer struct {
	store storage.Store
	nc    *nats.Conn
	cfg   Config
}

func New(store storage.Store, nc *nats.Conn, cfg Config) *Normalizer {
	return &Normalizer{store: store, nc: nc, cfg: cfg}
}

// Process normalizes one draft for a resolved device. All last-known
// state changes accumulate into the device's pending update and are
// flushed in a single write at the end, alongside whatever connection
// bookkeeping the handler already queued.
func (n *Normalizer) Process(ctx context.Context, dev *directory.Resolved, draft *Draft) error {
	device := dev.Device
	pending := dev.Pending()

	// 1. Timestamp repair
	if draft.Timestamp <= 0 {
		draft.Timestamp = time.Now().UTC().Unix()
	}

	// 2. Location validation
	point := geo.NewPoint(draft.Latitude, draft.Longitude)
	validFix := draft.GPSValid && point.IsValid()
	if !validFix {
		draft.Latitude = 0
		draft.Longitude = 0
		point = geo.Point{}
	}

	// 3. Speed floor and heading
	if draft.SpeedKPH < 0 {
		draft.SpeedKPH = 0
	}
	if draft.SpeedKPH < n.cfg.MinimumSpeedKPH {
		draft.SpeedKPH = 0
		draft.HeadingDeg = 0
	} else if draft.HeadingDeg < 0 {
		draft.HeadingDeg = n.estimateHeading(device, point, validFix)
	}

	// 4. Odometer resolution
	draft.OdometerKM = n.resolveOdometer(device, point, validFix, draft.OdometerKM)

	// Status must be resolved before zone synthesis: duplicate
	// suppression compares against the primary's final code.
	primaryStatus := n.resolveStatus(draft)

	queued := make([]*models.Event, 0, 4)

	// 5. Geozone transition synthesis
	if n.cfg.SimulateGeozones && validFix {
		zoneEvents, suppress := n.zoneTransitions(ctx, device, point, draft, primaryStatus)
		queued = append(queued, zoneEvents...)
		if suppress {
			primaryStatus = status.Ignore
		}
	}

	// 6. Digital input edge detection
	if n.cfg.SimulateInputsMask != 0 && draft.InputMask != nil {
		queued = append(queued, n.inputTransitions(device, draft, *draft.InputMask)...)
		mask := *draft.InputMask
		pending.LastInputState = &mask
		device.LastInputState = mask
	}

	// 8. Primary event insert
	if primaryStatus != status.Ignore &&
		!(n.cfg.DropInvalidLocation && !validFix && primaryStatus == status.Location) {
		queued = append(queued, n.buildEvent(device, draft, primaryStatus, ""))
	}

	var inserted int
	for _, ev := range queued {
		if err := n.store.UpsertEvent(ctx, ev); err != nil {
			log.Error().Err(err).
				Str("device", device.DeviceID).
				Int("status", ev.StatusCode).
				Msg("Failed to store event")
			continue
		}
		inserted++
		n.publish(ev)
	}

	if inserted > 0 {
		last := queued[len(queued)-1]
		pending.LastEventTimestamp = &last.Timestamp
		pending.LastEventStatus = &last.StatusCode
		device.LastEventTimestamp = last.Timestamp
		device.LastEventStatus = last.StatusCode
	}
	if validFix {
		lat, lon, ts := point.Latitude, point.Longitude, draft.Timestamp
		pending.LastValidLatitude = &lat
		pending.LastValidLongitude = &lon
		pending.LastValidTimestamp = &ts
		device.LastValidLatitude = lat
		device.LastValidLongitude = lon
		device.LastValidTimestamp = ts
	}
	odom := device.LastOdometerKM
	pending.LastOdometerKM = &odom

	return dev.Commit(ctx, n.store)
}

// estimateHeading derives a heading from the device's previous valid
// position when the record is moving but carries no heading of its own.
func (n *Normalizer) estimateHeading(device *models.Device, point geo.Point, validFix bool) float64 {
	if !validFix {
		return 0
	}
	last := geo.NewPoint(device.LastValidLatitude, device.LastValidLongitude)
	if !last.IsValid() {
		return 0
	}
	return last.HeadingTo(point)
}

// resolveOdometer picks the event odometer: a plausible device-reported
// value wins, otherwise the previous odometer advanced by the distance
// from the last valid fix when estimation is enabled.
func (n *Normalizer) resolveOdometer(device *models.Device, point geo.Point, validFix bool, reported float64) float64 {
	last := device.LastOdometerKM

	if reported > 0 {
		if reported >= last && reported < models.MaxOdometerKM {
			odom := reported
			device.LastOdometerKM = odom
			return odom
		}
		// implausible report, fall through to the previous value
	}

	odom := last
	if n.cfg.EstimateOdometer && validFix {
		prev := geo.NewPoint(device.LastValidLatitude, device.LastValidLongitude)
		if prev.IsValid() {
			odom = last + prev.KilometersTo(point)
		}
	}
	device.LastOdometerKM = odom
	return odom
}

// resolveStatus translates the device event code and applies the
// speed-based refinements for the None and Location sentinels.
func (n *Normalizer) resolveStatus(draft *Draft) int {
	code := status.Location
	if draft.EventCode != "" {
		code = n.cfg.StatusCodes.Translate(draft.EventCode, status.Location)
	} else if draft.StatusCode != nil {
		code = *draft.StatusCode
	}

	switch {
	case code == status.Ignore:
		return status.Ignore
	case code == status.None:
		if draft.SpeedKPH > 0 {
			return status.MotionInMotion
		}
		return status.Location
	case code == status.Location && n.cfg.LocationInMotion && draft.SpeedKPH > 0:
		return status.MotionInMotion
	}
	return code
}

// zoneTransitions compares the containing zones of the previous and
// current fixes and synthesizes depart/arrive events. Departures are
// timestamped two seconds before the triggering record and arrivals one
// second before, so the sequence orders correctly even within the same
// wall-clock second. The primary event is suppressed when it would
// duplicate the status of a just-synthesized transition.
func (n *Normalizer) zoneTransitions(ctx context.Context, device *models.Device, point geo.Point, draft *Draft, primaryStatus int) ([]*models.Event, bool) {
	prev := geo.NewPoint(device.LastValidLatitude, device.LastValidLongitude)
	if !prev.IsValid() {
		return nil, false
	}

	zones, err := n.store.ListGeozones(ctx, device.AccountID)
	if err != nil {
		log.Error().Err(err).
			Str("account", device.AccountID).
			Msg("Failed to load geozones")
		return nil, false
	}

	prevZone := containingZone(zones, prev)
	currZone := containingZone(zones, point)
	if prevZone == currZone {
		return nil, false
	}

	var events []*models.Event
	if prevZone != nil && prevZone.DepartureZone {
		ev := n.buildEvent(device, draft, status.GeofenceDepart, prevZone.GeozoneID)
		ev.Timestamp = draft.Timestamp - 2
		events = append(events, ev)
	}
	if currZone != nil && currZone.ArrivalZone {
		ev := n.buildEvent(device, draft, status.GeofenceArrive, currZone.GeozoneID)
		ev.Timestamp = draft.Timestamp - 1
		events = append(events, ev)
	}

	suppress := false
	for _, ev := range events {
		if ev.StatusCode == primaryStatus {
			suppress = true
		}
	}
	return events, suppress
}

func containingZone(zones []*models.Geozone, p geo.Point) *models.Geozone {
	for _, z := range zones {
		if z.IsActive && z.Contains(p) {
			return z
		}
	}
	return nil
}

// inputTransitions diffs the reported input mask against the device's
// last known state, restricted to the configured bits, and synthesizes
// one on/off event per changed bit in increasing bit order.
func (n *Normalizer) inputTransitions(device *models.Device, draft *Draft, current uint32) []*models.Event {
	changed := (current ^ device.LastInputState) & n.cfg.SimulateInputsMask
	if changed == 0 {
		return nil
	}

	var events []*models.Event
	for bit := 0; bit < 16; bit++ {
		if changed&(1<<bit) == 0 {
			continue
		}
		on := current&(1<<bit) != 0
		events = append(events, n.buildEvent(device, draft, status.InputStatusCode(bit, on), ""))
	}
	return events
}

func (n *Normalizer) buildEvent(device *models.Device, draft *Draft, statusCode int, geozoneID string) *models.Event {
	return &models.Event{
		AccountID:  device.AccountID,
		DeviceID:   device.DeviceID,
		Timestamp:  draft.Timestamp,
		StatusCode: statusCode,

		Latitude:  draft.Latitude,
		Longitude: draft.Longitude,
		GPSValid:  draft.GPSValid && geo.IsValid(draft.Latitude, draft.Longitude),

		SpeedKPH:   draft.SpeedKPH,
		HeadingDeg: draft.HeadingDeg,
		AltitudeM:  draft.AltitudeM,
		OdometerKM: draft.OdometerKM,

		InputMask:  draft.InputMask,
		Satellites: draft.Satellites,
		HDOP:       draft.HDOP,
		GPSAgeSec:  draft.GPSAgeSec,

		GeozoneID: geozoneID,
		RawData:   draft.RawData,
	}
}

// publish sends the stored event to NATS for downstream integrations.
// Publish failures are logged; delivery is best effort.
func (n *Normalizer) publish(ev *models.Event) {
	if n.nc == nil {
		return
	}
	subject := fmt.Sprintf("account.%s.device.%s.event", ev.AccountID, ev.DeviceID)
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return
	}
	if err := n.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}
