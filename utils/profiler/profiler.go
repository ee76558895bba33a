// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package profiler writes CPU, memory and lock profiles of the running node.
package profiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	cpuProfileFile  = "cpu.profile"
	memProfileFile  = "mem.profile"
	lockProfileFile = "lock.profile"

	dirPerms  = 0o750
	filePerms = 0o600
)

var (
	_ Profiler = (*profiler)(nil)

	errCPUProfilerRunning    = errors.New("cpu profiler already running")
	errCPUProfilerNotRunning = errors.New("cpu profiler doesn't exist")
	errMutexProfileMissing   = errors.New("mutex profile not found")
	errInvalidConfig         = errors.New("invalid profiler config")
)

// Profiler provides methods for measuring process performance.
type Profiler interface {
	StartCPUProfiler() error
	StopCPUProfiler() error
	MemoryProfile() error
	LockProfile() error
}

type profiler struct {
	dir             string
	cpuProfileName  string
	memProfileName  string
	lockProfileName string
	cpuProfileFile  *os.File
}

// New returns a new Profiler that writes to the given directory.
func New(dir string) Profiler {
	return newProfiler(dir)
}

func newProfiler(dir string) *profiler {
	return &profiler{
		dir:             dir,
		cpuProfileName:  filepath.Join(dir, cpuProfileFile),
		memProfileName:  filepath.Join(dir, memProfileFile),
		lockProfileName: filepath.Join(dir, lockProfileFile),
	}
}

func (p *profiler) create(name string) (*os.File, error) {
	if err := os.MkdirAll(p.dir, dirPerms); err != nil {
		return nil, err
	}
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerms)
}

func (p *profiler) StartCPUProfiler() error {
	if p.cpuProfileFile != nil {
		return errCPUProfilerRunning
	}

	file, err := p.create(p.cpuProfileName)
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(file); err != nil {
		return errors.Join(err, file.Close())
	}
	p.cpuProfileFile = file
	return nil
}

func (p *profiler) StopCPUProfiler() error {
	if p.cpuProfileFile == nil {
		return errCPUProfilerNotRunning
	}

	pprof.StopCPUProfile()
	err := p.cpuProfileFile.Close()
	p.cpuProfileFile = nil
	return err
}

func (p *profiler) MemoryProfile() error {
	file, err := p.create(p.memProfileName)
	if err != nil {
		return err
	}
	defer file.Close()

	runtime.GC()
	return pprof.WriteHeapProfile(file)
}

func (p *profiler) LockProfile() error {
	file, err := p.create(p.lockProfileName)
	if err != nil {
		return err
	}
	defer file.Close()

	profile := pprof.Lookup("mutex")
	if profile == nil {
		return errMutexProfileMissing
	}
	return profile.WriteTo(file, 0)
}

// Config of the continuous profiler.
type Config struct {
	Dir         string        `json:"dir"`
	Enabled     bool          `json:"enabled"`
	Freq        time.Duration `json:"freq"`
	MaxNumFiles int           `json:"maxNumFiles"`
}

func (c Config) Verify() error {
	switch {
	case !c.Enabled:
		return nil
	case c.Dir == "":
		return fmt.Errorf("%w: missing dir", errInvalidConfig)
	case c.Freq <= 0:
		return fmt.Errorf("%w: non-positive frequency %s", errInvalidConfig, c.Freq)
	case c.MaxNumFiles <= 0:
		return fmt.Errorf("%w: non-positive max files %d", errInvalidConfig, c.MaxNumFiles)
	}
	return nil
}

// ContinuousProfiler captures a profile of every period and keeps the last
// MaxNumFiles of each kind.
type ContinuousProfiler interface {
	Dispatch() error
	Shutdown()
}

type continuousProfiler struct {
	profiler    *profiler
	freq        time.Duration
	maxNumFiles int
	closer      chan struct{}
}

func NewContinuous(config Config) ContinuousProfiler {
	return &continuousProfiler{
		profiler:    newProfiler(config.Dir),
		freq:        config.Freq,
		maxNumFiles: config.MaxNumFiles,
		closer:      make(chan struct{}),
	}
}

func (p *continuousProfiler) Dispatch() error {
	t := time.NewTicker(p.freq)
	defer t.Stop()

	for {
		if err := p.profiler.StartCPUProfiler(); err != nil {
			return err
		}

		select {
		case <-p.closer:
			return p.stop()
		case <-t.C:
			if err := p.stop(); err != nil {
				return err
			}
		}

		if err := p.rotate(); err != nil {
			return err
		}
	}
}

func (p *continuousProfiler) stop() error {
	g := errgroup.Group{}
	g.Go(p.profiler.StopCPUProfiler)
	g.Go(p.profiler.MemoryProfile)
	g.Go(p.profiler.LockProfile)
	return g.Wait()
}

func (p *continuousProfiler) rotate() error {
	g := errgroup.Group{}
	for _, name := range []string{
		p.profiler.cpuProfileName,
		p.profiler.memProfileName,
		p.profiler.lockProfileName,
	} {
		g.Go(func() error {
			return rotate(name, p.maxNumFiles)
		})
	}
	return g.Wait()
}

func (p *continuousProfiler) Shutdown() {
	close(p.closer)
}

// rotate shifts name.i to name.i+1 and name to name.1. The oldest file is
// overwritten.
func rotate(name string, maxNumFiles int) error {
	for i := maxNumFiles - 1; i > 0; i-- {
		src := fmt.Sprintf("%s.%d", name, i)
		dst := fmt.Sprintf("%s.%d", name, i+1)
		if err := renameIfExists(src, dst); err != nil {
			return err
		}
	}
	return renameIfExists(name, name+".1")
}

func renameIfExists(src, dst string) error {
	err := os.Rename(src, dst)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
