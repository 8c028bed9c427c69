package obdlink

import (
	"context"
	"time"

	"github.com/banshee-data/obdwatch/internal/bridge"
)

// BridgeExchanger routes exchanges through a bridge, for transports that
// must be driven from the bridge's worker.
type BridgeExchanger struct {
	Bridge  *bridge.Bridge
	Timeout time.Duration
}

// Exchange sends command through the bridge. The call ends at the earlier of
// ctx's cancellation or deadline and Timeout.
func (b BridgeExchanger) Exchange(ctx context.Context, command string) (string, error) {
	resp, err := b.Bridge.Send(ctx, []byte(command), b.Timeout)
	return string(resp), err
}
