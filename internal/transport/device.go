// Package transport finds diagnostic adapters and provides the network
// transport driven through the command bridge.
package transport

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Device kinds.
const (
	KindSerial  = "serial"
	KindNetwork = "network"
)

// Device describes an adapter found by a scan.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"` // port path or host:port
	Kind    string `json:"kind"`
	// Info is the adapter's identify answer, when it was probed.
	Info string `json:"info,omitempty"`
}

// Scanner lists reachable adapters.
type Scanner interface {
	Scan(ctx context.Context) ([]Device, error)
}

// Scan runs every scanner with a shared timeout and merges the results,
// sorted by kind then address. A scanner error does not discard devices
// found by the others.
func Scan(timeout time.Duration, scanners ...Scanner) ([]Device, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var (
		out  []Device
		errs []error
	)
	for _, s := range scanners {
		found, err := s.Scan(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, found...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Address < out[j].Address
	})
	return out, errors.Join(errs...)
}
