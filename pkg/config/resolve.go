package config

import (
	"path/filepath"
	"strings"

	"github.com/go-go-golems/llmdesk/pkg/launch"
	"github.com/go-go-golems/llmdesk/pkg/provision"
	"github.com/go-go-golems/llmdesk/pkg/sequencer"
	"github.com/pkg/errors"
)

type ResolveOptions struct {
	// BaseDir anchors relative bin_dir, log_dir and cwd values.
	BaseDir string
	// BinDir overrides File.BinDir when set.
	BinDir   string
	Platform provision.Platform
}

// Resolve turns the file into launchable services. Provisioned binaries must
// exist and be executable.
func (f *File) Resolve(opts ResolveOptions) ([]sequencer.Service, error) {
	binDir := f.BinDir
	if opts.BinDir != "" {
		binDir = opts.BinDir
	}
	binDir = anchor(opts.BaseDir, binDir)
	logDir := ""
	if f.LogDir != "" {
		logDir = anchor(opts.BaseDir, f.LogDir)
	}
	platform := opts.Platform
	if platform.OS == "" {
		platform = provision.Current()
	}

	out := make([]sequencer.Service, 0, len(f.Services))
	for _, svc := range f.Services {
		dir := opts.BaseDir
		if svc.Cwd != "" {
			dir = anchor(opts.BaseDir, svc.Cwd)
		}

		command := commandPath(dir, svc.Command)
		if svc.Provisioned {
			p := provision.New(binDir)
			p.Platform = platform
			path, err := p.Resolve()
			if err != nil {
				return nil, errors.Wrapf(err, "provision %s", svc.Name)
			}
			command = path
		}

		attempts := svc.MaxAttempts
		if attempts <= 0 {
			attempts = f.Probe.MaxAttempts
		}
		interval := svc.Interval
		if interval <= 0 {
			interval = f.Probe.Interval
		}

		out = append(out, sequencer.Service{
			Name: svc.Name,
			Launch: launch.Spec{
				Name:    svc.Name,
				Command: command,
				Args:    svc.Args,
				Env:     svc.Env,
				Dir:     dir,
				LogDir:  logDir,
			},
			HealthURL:        svc.HealthURL,
			BaseURL:          svc.BaseURL,
			LinkEnv:          svc.LinkEnv,
			MaxProbeAttempts: attempts,
			ProbeInterval:    interval,
		})
	}
	return out, nil
}

// commandPath anchors a relative command with a path separator, such as
// ./venv/bin/python, to the service's working directory. Bare names are left
// for PATH lookup.
func commandPath(dir, command string) string {
	if command == "" || filepath.IsAbs(command) || !strings.ContainsAny(command, `/\`) {
		return command
	}
	return anchor(dir, command)
}

func anchor(base, p string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}
