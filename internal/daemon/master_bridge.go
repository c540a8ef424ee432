package daemon

import (
	"fmt"

	"github.com/heliograph/dfms/internal/manager/composite"
	"github.com/heliograph/dfms/pkg/logger"
)

// WireMasterDiscovery makes master track Node Managers as they come and go
// on the local network: each addition/removal calls master.AddNode /
// RemoveNode, per spec.md §4.8's "when a Master starts, subscribe to
// additions/removals and call addNode/removeNode on itself accordingly."
func WireMasterDiscovery(master *composite.Manager, log *logger.Logger) (*Browser, error) {
	return Browse("NodeManager", func(added bool, host string, port int) {
		addr := fmt.Sprintf("%s:%d", host, port)
		if added {
			master.AddNode(composite.NewRemoteChild(addr, fmt.Sprintf("http://%s", addr), nil))
			return
		}
		master.RemoveNode(addr)
	}, log)
}
