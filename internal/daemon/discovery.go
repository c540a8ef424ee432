package daemon

import (
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/heliograph/dfms/pkg/logger"
)

// discoveryGroup (multicast address and port) and beaconInterval are the
// zero-configuration discovery settings for what spec.md §6 names: service name "NodeManager", protocol "tcp",
// payload (host, port). None of the retrieved example repositories import a
// zeroconf/mDNS client (see DESIGN.md); this package speaks a minimal
// JSON-over-UDP-multicast announce/browse protocol directly against net's
// multicast primitives instead of fabricating a dependency that isn't in
// the corpus.
const (
	discoveryGroup = "239.192.50.1:9100"
	beaconInterval = 5 * time.Second
)

// announcement is the payload advertised/browsed for one service instance.
type announcement struct {
	Service string `json:"service"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// Advertiser periodically beacons (service, host, port) on the local
// network's multicast group until Stop is called.
type Advertiser struct {
	log    *logger.Logger
	stop   chan struct{}
	closed sync.Once
}

// Advertise starts beaconing service/host/port and returns the handle used
// to stop it. Mirrors the original's register_service call at NodeManager
// startup.
func Advertise(service, host string, port int, log *logger.Logger) (*Advertiser, error) {
	if log == nil {
		log = logger.NewDefault("discovery")
	}
	addr, err := net.ResolveUDPAddr("udp4", discoveryGroup)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(announcement{Service: service, Host: host, Port: port})
	if err != nil {
		conn.Close()
		return nil, err
	}

	a := &Advertiser{log: log, stop: make(chan struct{})}
	go func() {
		defer conn.Close()
		ticker := time.NewTicker(beaconInterval)
		defer ticker.Stop()
		for {
			if _, err := conn.Write(payload); err != nil {
				a.log.WithField("service", service).WithField("err", err).Warn("discovery beacon failed")
			}
			select {
			case <-ticker.C:
			case <-a.stop:
				return
			}
		}
	}()

	log.WithField("service", service).WithField("host", host).WithField("port", port).Info("advertising service")
	return a, nil
}

// Stop ends this advertiser's beacon loop.
func (a *Advertiser) Stop() {
	a.closed.Do(func() { close(a.stop) })
}

// BrowseCallback is invoked once per observed add/remove of a service
// instance, mirroring zeroconf.ServiceStateChange's Added/Removed split.
type BrowseCallback func(added bool, host string, port int)

// Browser listens on the multicast group for announcements of a named
// service and reports additions/removals (an instance is "removed" once it
// hasn't beaconed within 3 beacon intervals), used by a Master to self
// assemble its Node Manager child list.
type Browser struct {
	stop   chan struct{}
	closed sync.Once
}

// Browse starts listening for `service` announcements, invoking cb on each
// newly seen or expired instance.
func Browse(service string, cb BrowseCallback, log *logger.Logger) (*Browser, error) {
	if log == nil {
		log = logger.NewDefault("discovery")
	}
	addr, err := net.ResolveUDPAddr("udp4", discoveryGroup)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadBuffer(1 << 16)

	b := &Browser{stop: make(chan struct{})}
	seen := make(map[string]time.Time)
	var mu sync.Mutex

	go func() {
		defer conn.Close()
		buf := make([]byte, 2048)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(beaconInterval))
			n, _, err := conn.ReadFromUDP(buf)
			select {
			case <-b.stop:
				return
			default:
			}
			if err != nil {
				continue
			}
			var ann announcement
			if jsonErr := json.Unmarshal(buf[:n], &ann); jsonErr != nil || ann.Service != service {
				continue
			}
			key := ann.Host + ":" + strconv.Itoa(ann.Port)
			mu.Lock()
			_, known := seen[key]
			seen[key] = time.Now()
			mu.Unlock()
			if !known {
				cb(true, ann.Host, ann.Port)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(beaconInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				mu.Lock()
				cutoff := time.Now().Add(-3 * beaconInterval)
				for key, last := range seen {
					if last.Before(cutoff) {
						delete(seen, key)
						host, port := splitHostPort(key)
						mu.Unlock()
						cb(false, host, port)
						mu.Lock()
					}
				}
				mu.Unlock()
			}
		}
	}()

	log.WithField("service", service).Info("browsing for service")
	return b, nil
}

// Stop ends this browser's listen loop.
func (b *Browser) Stop() {
	b.closed.Do(func() { close(b.stop) })
}

func splitHostPort(key string) (string, int) {
	host, portStr, err := net.SplitHostPort(key)
	if err != nil {
		return key, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
