package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	API       APIConfig                 `yaml:"api"`
	Database  DatabaseConfig            `yaml:"database"`
	NATS      NATSConfig                `yaml:"nats"`
	JWT       JWTConfig                 `yaml:"jwt"`
	Log       LogConfig                 `yaml:"log"`
	HTTPIngest HTTPIngestConfig         `yaml:"http_ingest"`
	Protocols map[string]ProtocolConfig `yaml:"protocols"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TimeoutConfig represents the three session timeout classes for one
// transport. Zero values mean "no limit" for that class.
type TimeoutConfig struct {
	Idle    time.Duration `yaml:"idle"`    // start (or end of packet) to first byte of next packet
	Packet  time.Duration `yaml:"packet"`  // first byte of a packet to its completion
	Session time.Duration `yaml:"session"` // hard ceiling on total session duration
}

// ProtocolConfig represents the listener and normalization settings for
// one device family. One handler instance is constructed per listener from
// this block; nothing is shared through package state.
type ProtocolConfig struct {
	TCPPorts []int `yaml:"tcp_ports"`
	UDPPorts []int `yaml:"udp_ports"`

	MinPacketLength   int   `yaml:"min_packet_length"`
	MaxPacketLength   int   `yaml:"max_packet_length"`
	PacketTerminators []int `yaml:"packet_terminators"` // e.g. [0x0D, 0x0A]

	TCPTimeouts        TimeoutConfig `yaml:"tcp_timeouts"`
	UDPTimeouts        TimeoutConfig `yaml:"udp_timeouts"`
	TerminateOnTimeout *bool         `yaml:"terminate_on_timeout"` // default true
	Linger             time.Duration `yaml:"linger"`

	MinimumSpeedKPH    float64        `yaml:"minimum_speed_kph"`
	EstimateOdometer   bool           `yaml:"estimate_odometer"`
	SimulateGeozones   bool           `yaml:"simulate_geozones"`
	SimulateInputsMask uint32         `yaml:"simulate_inputs_mask"`
	LocationInMotion   bool           `yaml:"location_in_motion"`
	UniqueIDPrefixes   []string       `yaml:"unique_id_prefixes"`
	StatusCodes        map[string]int `yaml:"status_codes"`
}

// TerminatorBytes returns the packet terminator set as bytes
func (p *ProtocolConfig) TerminatorBytes() []byte {
	out := make([]byte, 0, len(p.PacketTerminators))
	for _, t := range p.PacketTerminators {
		out = append(out, byte(t))
	}
	return out
}

// TerminateOnTimeoutOrDefault returns the terminate-on-timeout flag,
// defaulting to true when unset
func (p *ProtocolConfig) TerminateOnTimeoutOrDefault() bool {
	if p.TerminateOnTimeout == nil {
		return true
	}
	return *p.TerminateOnTimeout
}

// HTTPIngestConfig maps HTTP query parameter names onto logical event
// fields for the query-parameter ingestion endpoint.
type HTTPIngestConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	DateFormat string `yaml:"date_format"` // NONE | EPOCH | YMD | MDY | DMY

	// Parameter names; unset entries use the defaults below
	ParmUnique    string `yaml:"parm_unique"`
	ParmAccount   string `yaml:"parm_account"`
	ParmDevice    string `yaml:"parm_device"`
	ParmAuth      string `yaml:"parm_auth"`
	ParmDate      string `yaml:"parm_date"`
	ParmTime      string `yaml:"parm_time"`
	ParmLatitude  string `yaml:"parm_latitude"`
	ParmLongitude string `yaml:"parm_longitude"`
	ParmSpeed     string `yaml:"parm_speed"`
	ParmHeading   string `yaml:"parm_heading"`
	ParmAltitude  string `yaml:"parm_altitude"`
	ParmOdometer  string `yaml:"parm_odometer"`
	ParmStatus    string `yaml:"parm_status"`
	ParmInputMask string `yaml:"parm_input_mask"`

	UniqueIDPrefixes []string       `yaml:"unique_id_prefixes"`
	StatusCodes      map[string]int `yaml:"status_codes"`
	MinimumSpeedKPH  float64        `yaml:"minimum_speed_kph"`
	EstimateOdometer bool           `yaml:"estimate_odometer"`
	SimulateGeozones bool           `yaml:"simulate_geozones"`
	LocationInMotion bool           `yaml:"location_in_motion"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides lets deployment secrets come from the environment
// instead of the config file
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TRACK_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("TRACK_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("TRACK_JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "track-server"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 5 * time.Second
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTPIngest.Path == "" {
		c.HTTPIngest.Path = "/gprmc"
	}
	if c.HTTPIngest.DateFormat == "" {
		c.HTTPIngest.DateFormat = "YMD"
	}
	applyParmDefaults(&c.HTTPIngest)

	for name, p := range c.Protocols {
		if p.MinPacketLength == 0 {
			p.MinPacketLength = 1
		}
		if p.MaxPacketLength == 0 {
			p.MaxPacketLength = 600
		}
		if p.TCPTimeouts.Idle == 0 {
			p.TCPTimeouts.Idle = 30 * time.Second
		}
		if p.TCPTimeouts.Packet == 0 {
			p.TCPTimeouts.Packet = 15 * time.Second
		}
		if p.TCPTimeouts.Session == 0 {
			p.TCPTimeouts.Session = 5 * time.Minute
		}
		if p.UDPTimeouts.Idle == 0 {
			p.UDPTimeouts.Idle = 10 * time.Second
		}
		if p.UDPTimeouts.Packet == 0 {
			p.UDPTimeouts.Packet = 5 * time.Second
		}
		if p.UDPTimeouts.Session == 0 {
			p.UDPTimeouts.Session = time.Minute
		}
		if p.Linger == 0 {
			p.Linger = 4 * time.Second
		}
		c.Protocols[name] = p
	}
}

func applyParmDefaults(h *HTTPIngestConfig) {
	def := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	def(&h.ParmUnique, "id")
	def(&h.ParmAccount, "acct")
	def(&h.ParmDevice, "dev")
	def(&h.ParmAuth, "pass")
	def(&h.ParmDate, "date")
	def(&h.ParmTime, "time")
	def(&h.ParmLatitude, "lat")
	def(&h.ParmLongitude, "lon")
	def(&h.ParmSpeed, "speed")
	def(&h.ParmHeading, "head")
	def(&h.ParmAltitude, "alt")
	def(&h.ParmOdometer, "odom")
	def(&h.ParmStatus, "code")
	def(&h.ParmInputMask, "input")
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	for name, p := range c.Protocols {
		if p.MinPacketLength > p.MaxPacketLength {
			return fmt.Errorf("protocol %s: min_packet_length %d exceeds max_packet_length %d",
				name, p.MinPacketLength, p.MaxPacketLength)
		}
	}
	switch c.HTTPIngest.DateFormat {
	case "NONE", "EPOCH", "YMD", "MDY", "DMY":
	default:
		return fmt.Errorf("http_ingest.date_format %q is not one of NONE|EPOCH|YMD|MDY|DMY",
			c.HTTPIngest.DateFormat)
	}
	return nil
}

// PrintConfigSummary logs a summary of the loaded configuration
func (c *Config) PrintConfigSummary() {
	log.Info().
		Str("server", c.Server.Name).
		Str("version", c.Server.Version).
		Str("api", fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)).
		Str("nats", c.NATS.URL).
		Str("log_level", c.Log.Level).
		Int("protocols", len(c.Protocols)).
		Bool("http_ingest", c.HTTPIngest.Enabled).
		Msg("configuration loaded")

	for name, p := range c.Protocols {
		log.Info().
			Str("protocol", name).
			Ints("tcp_ports", p.TCPPorts).
			Ints("udp_ports", p.UDPPorts).
			Int("min_len", p.MinPacketLength).
			Int("max_len", p.MaxPacketLength).
			Float64("min_speed_kph", p.MinimumSpeedKPH).
			Bool("estimate_odometer", p.EstimateOdometer).
			Bool("simulate_geozones", p.SimulateGeozones).
			Msg("protocol configured")
	}
}
