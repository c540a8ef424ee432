// Command dfms-nodemgr runs a standalone Node Manager (C6) process: it
// builds drops, hosts sessions, and serves the REST surface spec.md §6
// summarizes, optionally advertising itself for zero-configuration
// discovery so a Master can find it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/heliograph/dfms/internal/cmdutil"
	"github.com/heliograph/dfms/internal/daemon"
	"github.com/heliograph/dfms/internal/manager/composite"
	"github.com/heliograph/dfms/internal/manager/node"
	"github.com/heliograph/dfms/internal/manager/templates"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	host := flag.String("host", "", "advertised host (overrides config/env)")
	port := flag.Int("port", 0, "HTTP listen port (overrides config/env)")
	dataDir := flag.String("data-dir", "", "directory for file-backed drop payloads")
	noDiscovery := flag.Bool("no-discovery", false, "disable zero-configuration discovery advertisement")
	flag.Parse()

	cfg, log := cmdutil.LoadConfigAndLogger(*configPath, "node-manager")

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	dir := *dataDir
	if dir == "" {
		dir = os.TempDir()
	}

	mgr := node.New(node.Options{
		Host:      cfg.Server.Host,
		DataDir:   dir,
		ExecCfg:   cmdutil.ExecConfig(cfg),
		DLMCfg:    cmdutil.DLMConfig(cfg),
		Templates: templates.NewDefaultRegistry(),
		Log:       log,
	})
	defer mgr.Shutdown()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := composite.NewNodeRouter(mgr)
	srv := &http.Server{Addr: addr, Handler: router}

	var advertiser *daemon.Advertiser
	if !*noDiscovery && !cfg.Daemon.DisableZeroconf {
		a, err := daemon.Advertise("NodeManager", cfg.Server.Host, cfg.Server.Port, log)
		if err != nil {
			log.WithField("err", err).Warn("discovery advertisement failed to start")
		} else {
			advertiser = a
		}
	}

	go func() {
		log.WithField("addr", addr).Info("node manager listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("err", err).Fatal("node manager server failed")
		}
	}()

	cmdutil.WaitForShutdown(log, func() {
		if advertiser != nil {
			advertiser.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithField("err", err).Warn("node manager shutdown did not complete cleanly")
		}
	})
}
