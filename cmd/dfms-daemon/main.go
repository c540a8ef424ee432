// Command dfms-daemon runs the long-running supervisor process (C8): it
// exposes the `/managers/{node,dataisland,master}` REST surface spec.md §6
// summarizes, spawning the dfms-nodemgr/dfms-dimgr/dfms-mmgr binaries as
// child processes on request, and optionally auto-starts a Master and/or
// Node Manager at boot per the original's master/noNM flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"

	"github.com/heliograph/dfms/internal/cmdutil"
	"github.com/heliograph/dfms/internal/daemon"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	host := flag.String("host", "", "listen host (overrides config/env)")
	port := flag.Int("port", 0, "HTTP listen port (overrides config/env)")
	binDir := flag.String("bin-dir", "", "directory containing the dfms-nodemgr/dfms-dimgr/dfms-mmgr binaries")
	master := flag.Bool("master", false, "auto-start a Master Manager at boot")
	noNodeMgr := flag.Bool("no-nm", false, "do not auto-start a Node Manager at boot")
	disableZeroconf := flag.Bool("disable-zeroconf", false, "disable zero-configuration discovery for auto-started managers")
	flag.Parse()

	cfg, log := cmdutil.LoadConfigAndLogger(*configPath, "daemon")
	if *host != "" {
		cfg.Daemon.Host = *host
	}
	if *port != 0 {
		cfg.Daemon.Port = *port
	}
	startMaster := *master || cfg.Daemon.StartMaster
	startNodeMgr := (!*noNodeMgr) && cfg.Daemon.StartNodeMgr
	if *disableZeroconf {
		cfg.Daemon.DisableZeroconf = true
	}

	d := daemon.New(daemon.Config{
		BinDir:       *binDir,
		PIDDir:       cfg.Daemon.PIDDir,
		GraceTimeout: cfg.Daemon.GraceTimeout,
	}, log)

	if startNodeMgr {
		nmArgs := []string{"-host", cfg.Server.Host}
		if cfg.Daemon.DisableZeroconf {
			nmArgs = append(nmArgs, "-no-discovery")
		}
		if _, err := d.StartManager(daemon.KindNode, nmArgs); err != nil {
			log.WithField("err", err).Error("failed to auto-start node manager")
		}
	}
	if startMaster {
		mmArgs := []string{"-host", cfg.Server.Host}
		if !cfg.Daemon.DisableZeroconf {
			mmArgs = append(mmArgs, "-discover-nodes")
		}
		if _, err := d.StartManager(daemon.KindMaster, mmArgs); err != nil {
			log.WithField("err", err).Error("failed to auto-start master manager")
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Daemon.Host, cfg.Daemon.Port)
	router := daemon.NewRouter(d)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.WithField("addr", addr).Info("daemon listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("err", err).Fatal("daemon server failed")
		}
	}()

	cmdutil.WaitForShutdown(log, func() {
		d.StopAll()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.GraceTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithField("err", err).Warn("daemon shutdown did not complete cleanly")
		}
	})
}
