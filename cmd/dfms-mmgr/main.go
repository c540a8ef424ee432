// Command dfms-mmgr runs a standalone Master Manager (C7) process: the top
// tier of the hierarchy, fanning out to a static list of Data Island
// Manager children (or, in small deployments, directly to Node Managers),
// optionally self-assembling its Node Manager child list from
// zero-configuration discovery per spec.md §4.8.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/heliograph/dfms/internal/cmdutil"
	"github.com/heliograph/dfms/internal/daemon"
	"github.com/heliograph/dfms/internal/manager/composite"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	host := flag.String("host", "", "listen host (overrides config/env)")
	port := flag.Int("port", 0, "HTTP listen port (overrides config/env)")
	islands := flag.String("dataislands", "", "comma-separated host:port list of child Data Island Managers")
	nodes := flag.String("nodes", "", "comma-separated host:port list of child Node Managers (small deployments)")
	autoDiscover := flag.Bool("discover-nodes", false, "self-assemble the Node Manager child list via zero-configuration discovery")
	flag.Parse()

	cfg, log := cmdutil.LoadConfigAndLogger(*configPath, "master-manager")
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	var kids []composite.Child
	for _, addr := range splitAddrs(*islands) {
		kids = append(kids, composite.NewRemoteChild(addr, fmt.Sprintf("http://%s", addr), nil))
	}
	for _, addr := range splitAddrs(*nodes) {
		kids = append(kids, composite.NewRemoteChild(addr, fmt.Sprintf("http://%s", addr), nil))
	}
	mgr := composite.New(composite.KindMaster, kids, log)

	var browser *daemon.Browser
	if *autoDiscover && !cfg.Daemon.DisableZeroconf {
		b, err := daemon.WireMasterDiscovery(mgr, log)
		if err != nil {
			log.WithField("err", err).Warn("node discovery failed to start")
		} else {
			browser = b
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := composite.NewCompositeRouter(mgr)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.WithField("addr", addr).WithField("children", len(kids)).Info("master manager listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("err", err).Fatal("master manager server failed")
		}
	}()

	cmdutil.WaitForShutdown(log, func() {
		if browser != nil {
			browser.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithField("err", err).Warn("master manager shutdown did not complete cleanly")
		}
	})
}

func splitAddrs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
