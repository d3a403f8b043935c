package netmon

import (
	"context"
	"net"
	"strings"

	"daymark/internal/models"
)

// Prober produces one connectivity observation. Implementations must not
// block beyond the passed context.
type Prober interface {
	Probe(ctx context.Context) (models.ConnectivityState, error)
}

// InterfaceProber classifies connectivity from the OS network interface
// table: any up, non-loopback interface with an address counts as
// connected. Cellular-looking interface names mark the path expensive.
type InterfaceProber struct{}

// Interface name prefixes that indicate a metered cellular path.
var cellularPrefixes = []string{"wwan", "rmnet", "pdp_ip", "ccmni"}

func (InterfaceProber) Probe(_ context.Context) (models.ConnectivityState, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return models.ConnectivityState{Status: models.ConnUnknown}, err
	}

	state := models.ConnectivityState{
		Status: models.ConnDisconnected,
		Kind:   models.NetworkNone,
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}

		state.Status = models.ConnConnected
		if isCellularName(iface.Name) {
			state.Kind = models.NetworkCellular
			state.Expensive = true
			continue
		}
		// Any non-cellular path wins over a cellular one.
		if strings.HasPrefix(iface.Name, "wl") {
			state.Kind = models.NetworkWifi
		} else {
			state.Kind = models.NetworkWired
		}
		state.Expensive = false
		return state, nil
	}

	return state, nil
}

func isCellularName(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range cellularPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
