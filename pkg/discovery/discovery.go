// Package discovery browses for AirPlay 2 receivers over mDNS/DNS-SD.
//
// Grounded on github.com/brutella/dnssd, the pure-Go mDNS/DNS-SD library
// used elsewhere in the example pack (doismellburning-samoyed's
// src/dns_sd.go) for service announcement; here it drives the browse side
// instead (spec §4.3).
package discovery

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/brutella/dnssd"
)

// ServiceTypes are the two service names AirPlay 2 receivers register.
var ServiceTypes = []string{"_airplay._tcp.local.", "_raop._tcp.local."}

// DeviceInfo is the identity of a candidate receiver. Immutable once
// returned by discovery (spec §3).
type DeviceInfo struct {
	// Name is the mDNS instance label (friendly name), not the full mDNS
	// fullname and not the TXT "model" string.
	Name string

	Hostname string
	IPv4     []string
	IPv6     []string
	Port     int

	Model        string
	Features     uint64
	StatusFlags  uint64
	PublicKeyB64 string
	PairingID    string
	DeviceID     string

	PrefersPTP bool
}

// prefersPTP matches spec §4.6's select_timing_protocol rule:
// HomePod-family models prefer PTP over NTP.
func prefersPTP(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "audioaccessory") || strings.Contains(m, "homepod")
}

// Browse blocks, collecting DeviceInfo records for up to timeout, and
// returns early once nameFilter matches an instance name (nameFilter=""
// disables early return).
func Browse(ctx context.Context, timeout time.Duration, nameFilter string) ([]DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan DeviceInfo, 16)
	seen := map[string]bool{}

	errCh := make(chan error, 1)
	go func() {
		errCh <- watchAll(ctx, func(d DeviceInfo) {
			if seen[d.Name] {
				return
			}
			seen[d.Name] = true
			select {
			case found <- d:
			default:
			}
		})
	}()

	var out []DeviceInfo
collect:
	for {
		select {
		case d := <-found:
			out = append(out, d)
			if nameFilter != "" && d.Name == nameFilter {
				break collect
			}
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return nil, err
			}
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	return out, nil
}

// Watch browses continuously until ctx is cancelled, delivering each newly
// resolved DeviceInfo to onFound. One-shot Browse is a thin filter over
// this, since dnssd's browse API is inherently a callback stream.
func Watch(ctx context.Context, onFound func(DeviceInfo)) error {
	return watchAll(ctx, onFound)
}

func watchAll(ctx context.Context, onFound func(DeviceInfo)) error {
	resolver, err := dnssd.NewQuerier(nil)
	if err != nil {
		return err
	}

	added := func(e dnssd.BrowseEntry) {
		onFound(deviceInfoFromEntry(e))
	}
	removed := func(dnssd.BrowseEntry) {}

	for _, svc := range ServiceTypes {
		svc := svc
		go func() {
			_ = resolver.Lookup(ctx, svc, added, removed)
		}()
	}

	<-ctx.Done()
	return nil
}

func deviceInfoFromEntry(e dnssd.BrowseEntry) DeviceInfo {
	d := DeviceInfo{
		Name:     e.Name,
		Hostname: e.Host,
		Port:     e.Port,
	}

	for _, ip := range e.IPs {
		s := ip.String()
		if strings.Contains(s, ":") {
			d.IPv6 = append(d.IPv6, s)
		} else {
			d.IPv4 = append(d.IPv4, s)
		}
	}

	txt := e.Text
	d.Model = txt["model"]
	d.PublicKeyB64 = txt["pk"]
	d.PairingID = txt["pi"]
	d.DeviceID = txt["deviceid"]
	d.Features = parseFeatures(txt["features"])
	if sf, ok := txt["flags"]; ok {
		d.StatusFlags = parseFeatures(sf)
	}
	d.PrefersPTP = prefersPTP(d.Model)

	return d
}

// parseFeatures parses the "features" TXT value, which receivers encode
// either as a hex string ("0x...") or, on older firmware, a decimal u64.
// The "0x"/"0X" prefix is what distinguishes the two: a bare numeral
// string is always decimal, even though its digits would also be valid
// hex (spec line 82: "ff (hex or decimal 64-bit)").
func parseFeatures(s string) uint64 {
	if s == "" {
		return 0
	}

	if hexPart, ok := cutHexPrefix(s); ok {
		if v, err := strconv.ParseUint(hexPart, 16, 64); err == nil {
			return v
		}
		if b, err := hex.DecodeString(hexPart); err == nil && len(b) == 8 {
			return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
				uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
		}
		return 0
	}

	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v
	}
	return 0
}

// cutHexPrefix strips a leading "0x"/"0X", reporting whether one was
// present; only a string that actually carries the prefix is hex.
func cutHexPrefix(s string) (string, bool) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(s, "0X"); ok {
		return rest, true
	}
	return s, false
}
