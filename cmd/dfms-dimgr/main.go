// Command dfms-dimgr runs a standalone Data Island Manager (C7) process: a
// composite manager fanning session operations out to a static list of
// Node Manager children, reached over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/heliograph/dfms/internal/cmdutil"
	"github.com/heliograph/dfms/internal/manager/composite"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	host := flag.String("host", "", "listen host (overrides config/env)")
	port := flag.Int("port", 0, "HTTP listen port (overrides config/env)")
	children := flag.String("nodes", "", "comma-separated host:port list of child Node Managers")
	flag.Parse()

	cfg, log := cmdutil.LoadConfigAndLogger(*configPath, "dataisland-manager")
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	var kids []composite.Child
	for _, addr := range splitAddrs(*children) {
		kids = append(kids, composite.NewRemoteChild(addr, fmt.Sprintf("http://%s", addr), nil))
	}
	mgr := composite.New(composite.KindDataIsland, kids, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := composite.NewCompositeRouter(mgr)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.WithField("addr", addr).WithField("children", len(kids)).Info("data island manager listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("err", err).Fatal("data island manager server failed")
		}
	}()

	cmdutil.WaitForShutdown(log, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithField("err", err).Warn("data island manager shutdown did not complete cleanly")
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
