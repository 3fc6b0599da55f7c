// Package protocol implements the device-family packet handlers. Each
// protocol registers a builder that turns its config section into a
// listener spec; the handlers decode wire records into event drafts and
// hand them to the normalizer.
package protocol

import (
	"context"
	"fmt"
	"net"
	"sort"

	"github.com/nats-io/nats.go"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/directory"
	"github.com/track-server/track-server-pro/internal/normalize"
	"github.com/track-server/track-server-pro/internal/session"
	"github.com/track-server/track-server-pro/internal/storage"
	"github.com/track-server/track-server-pro/pkg/status"
)

// Env carries the shared backends every protocol handler needs
type Env struct {
	Ctx   context.Context
	Store storage.Store
	NATS  *nats.Conn
}

type builder func(env *Env, cfg config.ProtocolConfig) *session.ListenerSpec

var builders = map[string]builder{
	"tk10x": buildTK10X,
	"taip":  buildTAIP,
	"dmtp":  buildDMTP,
}

// Names returns the supported protocol names, sorted
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildSpecs turns the configured protocol sections into listener specs.
// Unknown protocol names are an error; a section with no ports is skipped
// by the listener manager, not here.
func BuildSpecs(env *Env, protocols map[string]config.ProtocolConfig) ([]*session.ListenerSpec, error) {
	specs := make([]*session.ListenerSpec, 0, len(protocols))
	names := make([]string, 0, len(protocols))
	for name := range protocols {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		build, ok := builders[name]
		if !ok {
			return nil, fmt.Errorf("unknown protocol %q (supported: %v)", name, Names())
		}
		specs = append(specs, build(env, protocols[name]))
	}
	return specs, nil
}

// newNormalizer builds the per-protocol normalizer from a config section
func newNormalizer(env *Env, cfg config.ProtocolConfig, dropInvalid bool) *normalize.Normalizer {
	return normalize.New(env.Store, env.NATS, normalize.Config{
		MinimumSpeedKPH:     cfg.MinimumSpeedKPH,
		EstimateOdometer:    cfg.EstimateOdometer,
		SimulateGeozones:    cfg.SimulateGeozones,
		SimulateInputsMask:  cfg.SimulateInputsMask,
		LocationInMotion:    cfg.LocationInMotion,
		DropInvalidLocation: dropInvalid,
		StatusCodes:         status.NewCodeMap(cfg.StatusCodes),
	})
}

// newResolver builds the per-protocol device resolver
func newResolver(env *Env, cfg config.ProtocolConfig, deviceCode string) *directory.Resolver {
	return directory.NewResolver(env.Store, cfg.UniqueIDPrefixes, deviceCode)
}

// baseSpec fills the listener settings shared by every protocol
func baseSpec(name string, cfg config.ProtocolConfig) *session.ListenerSpec {
	return &session.ListenerSpec{
		Protocol: name,
		TCPPorts: cfg.TCPPorts,
		UDPPorts: cfg.UDPPorts,
		TCPTimeouts: session.Timeouts{
			Idle:    cfg.TCPTimeouts.Idle,
			Packet:  cfg.TCPTimeouts.Packet,
			Session: cfg.TCPTimeouts.Session,
		},
		UDPTimeouts: session.Timeouts{
			Idle:    cfg.UDPTimeouts.Idle,
			Packet:  cfg.UDPTimeouts.Packet,
			Session: cfg.UDPTimeouts.Session,
		},
		TerminateOnTimeout: cfg.TerminateOnTimeoutOrDefault(),
		Linger:             cfg.Linger,
	}
}

// remoteIPPort splits a session remote address into host and port.
// Unparseable addresses yield the raw string and port zero.
func remoteIPPort(remote net.Addr) (string, int) {
	if remote == nil {
		return "", 0
	}
	switch a := remote.(type) {
	case *net.TCPAddr:
		return a.IP.String(), a.Port
	case *net.UDPAddr:
		return a.IP.String(), a.Port
	}
	host, portStr, err := net.SplitHostPort(remote.String())
	if err != nil {
		return remote.String(), 0
	}
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}
