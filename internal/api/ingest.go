package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/directory"
	"github.com/track-server/track-server-pro/internal/normalize"
	"github.com/track-server/track-server-pro/internal/storage"
	"github.com/track-server/track-server-pro/pkg/crypto"
	"github.com/track-server/track-server-pro/pkg/status"
)

// ingestHandler implements HTTP query-parameter event ingestion for
// trackers that report over plain GET/POST requests instead of a device
// socket protocol. Parameter names and the date format are configurable;
// the decoded record runs through the same normalizer as socket traffic.
//
//	GET /gprmc?id=123456789012345&date=20110709&time=215314&lat=39.1234&
//	    lon=-142.1234&speed=45.3&head=130
type ingestHandler struct {
	cfg      *config.HTTPIngestConfig
	store    storage.Store
	resolver *directory.Resolver
	norm     *normalize.Normalizer
}

func newIngestHandler(store storage.Store, nc *nats.Conn, cfg *config.HTTPIngestConfig) *ingestHandler {
	return &ingestHandler{
		cfg:      cfg,
		store:    store,
		resolver: directory.NewResolver(store, cfg.UniqueIDPrefixes, "http"),
		norm: normalize.New(store, nc, normalize.Config{
			MinimumSpeedKPH:  cfg.MinimumSpeedKPH,
			EstimateOdometer: cfg.EstimateOdometer,
			SimulateGeozones: cfg.SimulateGeozones,
			LocationInMotion: cfg.LocationInMotion,
			StatusCodes:      status.NewCodeMap(cfg.StatusCodes),
		}),
	}
}

func (h *ingestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	parm := func(name string) string {
		return strings.TrimSpace(query.Get(name))
	}

	// Resolve the device: a unique modem ID wins, otherwise an explicit
	// account/device pair
	var dev *directory.Resolved
	var err error
	if token := parm(h.cfg.ParmUnique); token != "" {
		dev, err = h.resolver.ByUniqueID(r.Context(), token)
	} else if acct, devID := parm(h.cfg.ParmAccount), parm(h.cfg.ParmDevice); acct != "" && devID != "" {
		dev, err = h.resolver.ByAccountDevice(r.Context(), acct, devID)
	} else {
		http.Error(w, "missing device identification", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("HTTP ingest device lookup failed")
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}

	if dev.Device.AuthHash != "" {
		if !crypto.VerifyPassword(parm(h.cfg.ParmAuth), dev.Device.AuthHash) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
	}

	ip := r.RemoteAddr
	if host, _, splitErr := net.SplitHostPort(ip); splitErr == nil {
		ip = host
	}
	if err := dev.CheckSourceIP(ip); err != nil {
		http.Error(w, "source address rejected", http.StatusForbidden)
		return
	}
	dev.NoteConnection(ip, 0, "http")

	draft, err := h.buildDraft(query, parm)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.norm.Process(r.Context(), dev, draft); err != nil {
		log.Error().Err(err).
			Str("device", dev.Device.DeviceID).
			Msg("HTTP ingest processing failed")
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("OK"))
}

func (h *ingestHandler) buildDraft(query map[string][]string, parm func(string) string) (*normalize.Draft, error) {
	draft := &normalize.Draft{
		SpeedKPH:   -1,
		HeadingDeg: -1,
		RawData:    flattenQuery(query),
	}

	ts, err := normalize.ParseDate(h.cfg.DateFormat, parm(h.cfg.ParmDate), parm(h.cfg.ParmTime), time.Now())
	if err != nil {
		return nil, err
	}
	draft.Timestamp = ts

	if lat, lon := parm(h.cfg.ParmLatitude), parm(h.cfg.ParmLongitude); lat != "" && lon != "" {
		draft.Latitude, err = strconv.ParseFloat(lat, 64)
		if err != nil {
			return nil, err
		}
		draft.Longitude, err = strconv.ParseFloat(lon, 64)
		if err != nil {
			return nil, err
		}
		draft.GPSValid = true
	}

	if v := parm(h.cfg.ParmSpeed); v != "" {
		if kph, err := strconv.ParseFloat(v, 64); err == nil {
			draft.SpeedKPH = kph
		}
	}
	if v := parm(h.cfg.ParmHeading); v != "" {
		if deg, err := strconv.ParseFloat(v, 64); err == nil {
			draft.HeadingDeg = deg
		}
	}
	if v := parm(h.cfg.ParmAltitude); v != "" {
		draft.AltitudeM, _ = strconv.ParseFloat(v, 64)
	}
	if v := parm(h.cfg.ParmOdometer); v != "" {
		draft.OdometerKM, _ = strconv.ParseFloat(v, 64)
	}
	if v := parm(h.cfg.ParmStatus); v != "" {
		draft.EventCode = strings.ToLower(v)
	}
	if v := parm(h.cfg.ParmInputMask); v != "" {
		if mask, err := strconv.ParseUint(v, 0, 32); err == nil {
			mask32 := uint32(mask)
			draft.InputMask = &mask32
		}
	}

	return draft, nil
}

func flattenQuery(query map[string][]string) string {
	var sb strings.Builder
	for key, values := range query {
		for _, v := range values {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(key)
			sb.WriteByte('=')
			sb.WriteString(v)
		}
	}
	return sb.String()
}
