// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

const (
	DefaultHeartbeat = 60 * time.Second

	ptyRows = 24
	ptyCols = 80

	readBufferSize = 4096
)

// Supervisor runs commands under a pty with a local watchdog and heartbeat.
// Every hook is delivered through post so callers see them on their event
// loop.
type Supervisor struct {
	post      func(func())
	clock     clock.WithTickerAndDelayedExecution
	heartbeat time.Duration
	// kill signals a process group, syscall.Kill unless replaced in tests.
	kill func(pid int, sig syscall.Signal) error
}

func NewSupervisor(post func(func()), clk clock.WithTickerAndDelayedExecution, heartbeat time.Duration) *Supervisor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Supervisor{post: post, clock: clk, heartbeat: heartbeat, kill: syscall.Kill}
}

type process struct {
	sup   *Supervisor
	cmd   *exec.Cmd
	hooks Hooks
	name  string

	output io.ReadCloser

	remaining  time.Duration
	adjustment *time.Duration
	watchdogOn bool
	watchdog   clock.Timer
	ticker     clock.Ticker
	tickerStop chan struct{}
	orphaned   chan struct{}
	finished   bool
	status     ExitStatus
	waitErr    error
}

// Run starts cmd. A start failure is reported through OnExit without any
// output.
func (s *Supervisor) Run(ctx context.Context, c Command, hooks Hooks) Handle {
	p := &process{
		sup:       s,
		hooks:     hooks,
		remaining: c.MaxTime,
		orphaned:  make(chan struct{}),
	}
	if len(c.Args) == 0 {
		p.failStart(fmt.Errorf("no command specified"))
		return p
	}
	p.name = strings.Join(c.Args, " ")

	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	p.cmd = cmd

	if err := p.start(c); err != nil {
		klog.ErrorS(err, "failed to start command", "cmd", p.name)
		p.failStart(err)
		return p
	}
	p.status.StartedAt = s.clock.Now()
	klog.InfoS("command started", "cmd", p.name, "pid", cmd.Process.Pid, "pty", !c.Pipe, "interactive", c.UsePty, "maxTime", c.MaxTime)

	if c.MaxTime > 0 {
		p.watchdogOn = true
		p.arm(c.MaxTime)
	}
	if hooks.OnHeartbeat != nil {
		p.startHeartbeat()
	}

	childDone := make(chan struct{})
	outputDone := make(chan struct{})
	go p.readOutput(outputDone)
	go func() {
		err := cmd.Wait()
		s.post(func() { p.waitErr = err })
		close(childDone)
	}()
	go func() {
		// Exit and EOF arrive in either order; only both together finish
		// the run, unless the child was abandoned.
		select {
		case <-p.orphaned:
			return
		case <-childDone:
		}
		select {
		case <-p.orphaned:
			return
		case <-outputDone:
		}
		s.post(p.finish)
	}()

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.post(p.Stop)
			case <-childDone:
			}
		}()
	}
	return p
}

func (p *process) start(c Command) error {
	if c.Pipe {
		return p.startPipe()
	}

	ptmx, tty, err := pty.Open()
	if err != nil {
		return fmt.Errorf("failed to open pty: %w", err)
	}
	defer tty.Close()
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: ptyRows, Cols: ptyCols}); err != nil {
		ptmx.Close()
		return fmt.Errorf("failed to size pty: %w", err)
	}
	if !c.UsePty {
		if err := rawOutput(tty); err != nil {
			ptmx.Close()
			return err
		}
	}
	p.cmd.Stdin = tty
	p.cmd.Stdout = tty
	p.cmd.Stderr = tty
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	if err := p.cmd.Start(); err != nil {
		ptmx.Close()
		return err
	}
	p.output = ptmx
	return nil
}

// rawOutput turns off echo and output post-processing on tty, so the bytes
// the child writes reach the log unchanged.
func rawOutput(tty *os.File) error {
	fd := int(tty.Fd())
	attrs, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to read pty attributes: %w", err)
	}
	attrs.Oflag &^= unix.OPOST
	attrs.Lflag &^= unix.ECHO | unix.ECHONL
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, attrs); err != nil {
		return fmt.Errorf("failed to set pty attributes: %w", err)
	}
	return nil
}

func (p *process) startPipe() error {
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create output pipe: %w", err)
	}
	p.cmd.Stdout = w
	p.cmd.Stderr = w
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := p.cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return err
	}
	w.Close()
	p.output = r
	return nil
}

func (p *process) failStart(err error) {
	p.finished = true
	now := p.sup.clock.Now()
	status := ExitStatus{ExitCode: -1, Err: err, StartedAt: now, FinishedAt: now}
	if p.hooks.OnExit != nil {
		onExit := p.hooks.OnExit
		p.sup.post(func() { onExit(status) })
	}
}

func (p *process) readOutput(done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := p.output.Read(buf)
		if n > 0 && p.hooks.OnOutput != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onOutput := p.hooks.OnOutput
			p.sup.post(func() { onOutput(chunk) })
		}
		if err != nil {
			// A pty master returns EIO once the last slave fd is closed.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				klog.ErrorS(err, "failed to read command output", "cmd", p.name)
			}
			return
		}
	}
}

func (p *process) arm(d time.Duration) {
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	p.watchdog = p.sup.clock.AfterFunc(d, func() { p.sup.post(p.expire) })
}

// expire runs on the loop when the local watchdog fires.
func (p *process) expire() {
	if p.finished {
		return
	}
	p.status.LocalWatchdog = true
	pid := p.Pid()
	klog.InfoS("local watchdog expired, killing command", "cmd", p.name, "pid", pid)

	if err := p.sup.kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		// The child cannot be killed. Abandon it rather than hang the task.
		klog.ErrorS(err, "failed to kill command after local watchdog", "cmd", p.name, "pid", pid)
		p.status.Err = fmt.Errorf("failed to kill pid %d: %w", pid, err)
		close(p.orphaned)
		p.finish()
	}
}

func (p *process) startHeartbeat() {
	p.ticker = p.sup.clock.NewTicker(p.sup.heartbeat)
	p.tickerStop = make(chan struct{})
	ticks := p.ticker.C()
	stop := p.tickerStop
	go func() {
		for {
			select {
			case <-ticks:
				p.sup.post(p.beat)
			case <-stop:
				return
			}
		}
	}()
}

// beat runs on the loop every heartbeat interval.
func (p *process) beat() {
	if p.finished {
		return
	}
	if p.adjustment != nil {
		p.remaining = *p.adjustment
		p.adjustment = nil
		if p.watchdogOn {
			p.arm(p.remaining)
		}
	} else {
		p.remaining -= p.sup.heartbeat
		if p.remaining < 0 {
			p.remaining = 0
		}
	}
	expiry := p.sup.clock.Now().Add(p.remaining)
	p.hooks.OnHeartbeat(p.remaining, expiry)
}

func (p *process) finish() {
	if p.finished {
		return
	}
	p.finished = true
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	if p.ticker != nil {
		p.ticker.Stop()
		close(p.tickerStop)
	}
	if p.output != nil {
		p.output.Close()
	}

	p.status.FinishedAt = p.sup.clock.Now()
	if p.status.Err == nil {
		p.status.ExitCode = exitCode(p.waitErr)
	} else {
		p.status.ExitCode = -1
	}
	klog.InfoS("command finished", "cmd", p.name, "exitCode", p.status.ExitCode, "localWatchdog", p.status.LocalWatchdog)

	if p.hooks.OnExit != nil {
		p.hooks.OnExit(p.status)
	}
}

func (p *process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) AdjustWatchdog(remaining time.Duration) {
	if p.finished {
		return
	}
	klog.InfoS("local watchdog adjusted", "cmd", p.name, "remaining", remaining)
	p.adjustment = &remaining
}

func (p *process) Stop() {
	if p.finished {
		return
	}
	pid := p.Pid()
	if pid == 0 {
		return
	}
	klog.InfoS("stopping command", "cmd", p.name, "pid", pid)
	if err := p.sup.kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		klog.ErrorS(err, "failed to kill command", "cmd", p.name, "pid", pid)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}
