package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"github.com/banshee-data/obdwatch/internal/failure"
)

// Default mDNS service advertised by wireless adapters.
const (
	DefaultService = "_obd._tcp"
	DefaultDomain  = "local."
)

// BrowseFunc browses for service instances until ctx is done, sending each
// one found on entries.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// ZeroconfBrowse browses on all interfaces.
func ZeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// MDNSScanner finds wireless adapters that advertise themselves over mDNS.
// Scan returns when ctx is done.
type MDNSScanner struct {
	Service string
	Domain  string
	Browse  BrowseFunc
}

func (s MDNSScanner) Scan(ctx context.Context) ([]Device, error) {
	service, domain, browse := s.Service, s.Domain, s.Browse
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	if browse == nil {
		browse = ZeroconfBrowse
	}

	entries := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() { errc <- browse(ctx, service, domain, entries) }()

	seen := make(map[string]bool)
	var devices []Device
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if d, ok := deviceFromEntry(e); ok && !seen[d.Address] {
				seen[d.Address] = true
				devices = append(devices, d)
			}
		case err := <-errc:
			if err != nil {
				return devices, failure.Transport("scan mdns", err)
			}
			// Browse returned early; keep draining until the deadline.
			errc = nil
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return devices, ctx.Err()
			}
			return devices, nil
		}
	}
}

func deviceFromEntry(e *zeroconf.ServiceEntry) (Device, bool) {
	if e == nil || e.Port == 0 {
		return Device{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	case e.HostName != "":
		host = strings.TrimSuffix(e.HostName, ".")
	default:
		return Device{}, false
	}
	return Device{
		Name:    e.Instance,
		Address: net.JoinHostPort(host, strconv.Itoa(e.Port)),
		Kind:    KindNetwork,
	}, true
}
