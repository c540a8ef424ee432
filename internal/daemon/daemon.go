// Package daemon implements the supervisor process (C8): spawns manager
// binaries as child processes, tracks their PIDs, exposes a small REST
// surface to start/query them, and advertises/discovers Node Managers on
// the local network so a Master can self-assemble its child list.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/heliograph/dfms/pkg/logger"
)

// Kind is one of the three manager binaries the daemon can supervise.
type Kind string

const (
	KindNode       Kind = "node"
	KindDataIsland Kind = "dataisland"
	KindMaster     Kind = "master"
)

// managerProc tracks one supervised child process.
type managerProc struct {
	cmd *exec.Cmd
	pid int
}

// Config controls where the daemon finds manager binaries, where it writes
// one pid file per manager kind (spec.md §6), and how long it waits for a
// child to exit gracefully before SIGKILL.
type Config struct {
	BinDir       string
	PIDDir       string
	GraceTimeout time.Duration
}

// Daemon supervises at most one process per Kind.
type Daemon struct {
	cfg Config
	log *logger.Logger

	mu    sync.Mutex
	procs map[Kind]*managerProc
}

// New returns a Daemon with no children started.
func New(cfg Config, log *logger.Logger) *Daemon {
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("daemon")
	}
	return &Daemon{cfg: cfg, log: log, procs: make(map[Kind]*managerProc)}
}

func (d *Daemon) binaryFor(kind Kind) string {
	name := map[Kind]string{
		KindNode:       "dfms-nodemgr",
		KindDataIsland: "dfms-dimgr",
		KindMaster:     "dfms-mmgr",
	}[kind]
	if d.cfg.BinDir == "" {
		return name
	}
	return d.cfg.BinDir + string(os.PathSeparator) + name
}

// pidPath returns the pid file path for kind, one file per manager kind
// under the configured directory, per spec.md §6.
func (d *Daemon) pidPath(kind Kind) string {
	dir := d.cfg.PIDDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("dfms-%s.pid", kind))
}

func (d *Daemon) writePIDFile(kind Kind, pid int) {
	path := d.pidPath(kind)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		d.log.WithField("kind", kind).WithField("err", err).Warn("could not create pid directory")
		return
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		d.log.WithField("kind", kind).WithField("err", err).Warn("could not write pid file")
	}
}

func (d *Daemon) removePIDFile(kind Kind) {
	_ = os.Remove(d.pidPath(kind))
}

// StartManager spawns kind as a child process with args, refusing a
// duplicate start with Conflict per spec.md §4.8. The child is launched in
// its own process group so it does not receive signals sent to the
// daemon's group, matching the original's "children don't inherit the
// parent's handlers" intent without requiring fork+re-signal.
func (d *Daemon) StartManager(kind Kind, args []string) (pid int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, running := d.procs[kind]; running {
		return 0, errkind.InvalidState("manager already running", string(kind))
	}

	cmd := exec.Command(d.binaryFor(kind), args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, errkind.RemoteFailure(string(kind), err)
	}

	d.procs[kind] = &managerProc{cmd: cmd, pid: cmd.Process.Pid}
	d.log.WithField("kind", kind).WithField("pid", cmd.Process.Pid).Info("started manager process")
	d.writePIDFile(kind, cmd.Process.Pid)

	go func() {
		_ = cmd.Wait()
		d.mu.Lock()
		if d.procs[kind] != nil && d.procs[kind].pid == cmd.Process.Pid {
			delete(d.procs, kind)
		}
		d.mu.Unlock()
		d.removePIDFile(kind)
	}()

	return cmd.Process.Pid, nil
}

// ManagerInfo returns the PID of the running manager of the given kind.
func (d *Daemon) ManagerInfo(kind Kind) (pid int, running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.procs[kind]
	if !ok {
		return 0, false
	}
	return p.pid, true
}

// StopManager sends SIGTERM to kind's process, waits up to the configured
// grace timeout, and SIGKILLs survivors, joining unconditionally -- the
// sequence spec.md §4.8/§5 require of daemon shutdown.
func (d *Daemon) StopManager(kind Kind) error {
	d.mu.Lock()
	p, ok := d.procs[kind]
	d.mu.Unlock()
	if !ok {
		return nil
	}

	d.log.WithField("kind", kind).WithField("pid", p.pid).Info("stopping manager process")
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.GraceTimeout)
	defer cancel()

	select {
	case <-done:
	case <-ctx.Done():
		d.log.WithField("pid", p.pid).Warn("grace timeout elapsed, sending SIGKILL")
		_ = p.cmd.Process.Kill()
		<-done
	}

	d.mu.Lock()
	delete(d.procs, kind)
	d.mu.Unlock()
	return nil
}

// StopAll stops every running manager, in no particular order.
func (d *Daemon) StopAll() {
	d.mu.Lock()
	kinds := make([]Kind, 0, len(d.procs))
	for k := range d.procs {
		kinds = append(kinds, k)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range kinds {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.StopManager(k)
		}()
	}
	wg.Wait()
	d.log.Info("all managers stopped")
}
