// Package directory resolves inbound device identity tokens to known
// devices and accumulates per-packet transport bookkeeping, flushed to
// storage once per packet rather than field by field.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/track-server/track-server-pro/internal/models"
	"github.com/track-server/track-server-pro/internal/storage"
)

// Resolution errors. ErrUnknownDevice and ErrIPRejected drop the packet;
// neither terminates the session.
var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrIPRejected    = errors.New("source ip not allowed")
)

// Resolver resolves identity tokens for one protocol handler family
type Resolver struct {
	store      storage.Store
	prefixes   []string
	deviceCode string
}

// NewResolver creates a resolver. prefixes are tried in order against
// unique-ID tokens; an entry of "*" (or "") matches the bare token.
func NewResolver(store storage.Store, prefixes []string, deviceCode string) *Resolver {
	if len(prefixes) == 0 {
		prefixes = []string{"*"}
	}
	return &Resolver{store: store, prefixes: prefixes, deviceCode: deviceCode}
}

// Resolved is a resolved device plus its pending bookkeeping changes
type Resolved struct {
	Device  *models.Device
	pending models.LastStateUpdate
}

// ByUniqueID resolves a modem ID token by trying each configured prefix in
// order. Returns ErrUnknownDevice if no combination matches.
func (r *Resolver) ByUniqueID(ctx context.Context, token string) (*Resolved, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty unique id", ErrUnknownDevice)
	}

	for _, prefix := range r.prefixes {
		uniqueID := token
		if prefix != "*" && prefix != "" {
			uniqueID = prefix + token
		}

		device, err := r.store.GetDeviceByUniqueID(ctx, uniqueID)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup unique id %q: %w", uniqueID, err)
		}
		if !device.IsActive {
			log.Warn().
				Str("unique_id", uniqueID).
				Str("account", device.AccountID).
				Str("device", device.DeviceID).
				Msg("device is inactive, packet dropped")
			return nil, ErrUnknownDevice
		}
		return &Resolved{Device: device}, nil
	}

	log.Warn().Str("token", token).Msg("unique id not found")
	return nil, ErrUnknownDevice
}

// ByAccountDevice resolves an explicit account/device pair
func (r *Resolver) ByAccountDevice(ctx context.Context, accountID, deviceID string) (*Resolved, error) {
	device, err := r.store.GetDevice(ctx, strings.TrimSpace(accountID), strings.TrimSpace(deviceID))
	if err == storage.ErrNotFound {
		log.Warn().
			Str("account", accountID).
			Str("device", deviceID).
			Msg("device not found")
		return nil, ErrUnknownDevice
	}
	if err != nil {
		return nil, fmt.Errorf("lookup device %s/%s: %w", accountID, deviceID, err)
	}
	if !device.IsActive {
		return nil, ErrUnknownDevice
	}
	return &Resolved{Device: device}, nil
}

// CheckSourceIP validates the packet source against the device's allow
// list, if one is configured. The list is comma separated and entries may
// be exact addresses or CIDR blocks.
func (d *Resolved) CheckSourceIP(ip string) error {
	if !d.Device.HasIPAllowList() || ip == "" {
		return nil
	}

	src := net.ParseIP(ip)
	for _, entry := range strings.Split(d.Device.IPAddressValid, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == ip {
			return nil
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && src != nil && cidr.Contains(src) {
			return nil
		}
	}

	log.Warn().
		Str("account", d.Device.AccountID).
		Str("device", d.Device.DeviceID).
		Str("source_ip", ip).
		Str("allowed", d.Device.IPAddressValid).
		Msg("source ip rejected")
	return ErrIPRejected
}

// NoteConnection records transport bookkeeping for the current packet.
// Nothing is written until Commit.
func (d *Resolved) NoteConnection(ip string, port int, deviceCode string) {
	now := time.Now()
	if ip != "" && ip != d.Device.IPAddressCurrent {
		d.pending.IPAddressCurrent = &ip
		d.Device.IPAddressCurrent = ip
	}
	if port != 0 && port != d.Device.RemotePortCurrent {
		d.pending.RemotePortCurrent = &port
		d.Device.RemotePortCurrent = port
	}
	d.pending.LastConnectAt = &now
	d.Device.LastConnectAt = &now
	if deviceCode != "" && !strings.EqualFold(deviceCode, d.Device.DeviceCode) {
		d.pending.DeviceCode = &deviceCode
		d.Device.DeviceCode = deviceCode
	}
}

// Pending exposes the accumulated update for the normalizer to extend
// with last-state fields.
func (d *Resolved) Pending() *models.LastStateUpdate {
	return &d.pending
}

// Commit flushes all accumulated changes in one storage call
func (d *Resolved) Commit(ctx context.Context, store storage.Store) error {
	if d.pending.IsEmpty() {
		return nil
	}
	err := store.UpdateDeviceLastState(ctx, d.Device.AccountID, d.Device.DeviceID, &d.pending)
	if err != nil {
		return fmt.Errorf("persist device state %s/%s: %w",
			d.Device.AccountID, d.Device.DeviceID, err)
	}
	d.pending = models.LastStateUpdate{}
	return nil
}
