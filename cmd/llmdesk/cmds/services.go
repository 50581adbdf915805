package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/llmdesk/pkg/config"
	"github.com/go-go-golems/llmdesk/pkg/launch"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "Show the managed services in start order",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.LoadOptional(opts.Config)
			if err != nil {
				return err
			}

			type serviceInfo struct {
				Name        string            `json:"name"`
				Command     string            `json:"command,omitempty"`
				Args        []string          `json:"args,omitempty"`
				Cwd         string            `json:"cwd,omitempty"`
				Env         map[string]string `json:"env,omitempty"`
				LinkEnv     map[string]string `json:"link_env,omitempty"`
				HealthURL   string            `json:"health_url,omitempty"`
				MaxAttempts int               `json:"max_attempts"`
				Interval    string            `json:"interval"`
				Error       string            `json:"error,omitempty"`
			}

			resolved, resolveErr := cfg.Resolve(config.ResolveOptions{BaseDir: opts.BaseDir, BinDir: opts.BinDir})

			infos := make([]serviceInfo, 0, len(cfg.Services))
			for i, svc := range cfg.Services {
				info := serviceInfo{
					Name:      svc.Name,
					Command:   svc.Command,
					Args:      svc.Args,
					Cwd:       svc.Cwd,
					Env:       launch.SanitizeEnv(svc.Env),
					LinkEnv:   svc.LinkEnv,
					HealthURL: svc.HealthURL,
				}
				if resolveErr == nil {
					r := resolved[i]
					info.Command = r.Launch.Command
					info.Cwd = r.Launch.Dir
					info.MaxAttempts = r.MaxProbeAttempts
					info.Interval = r.ProbeInterval.String()
				} else {
					info.MaxAttempts = cfg.Probe.MaxAttempts
					info.Interval = cfg.Probe.Interval.String()
					if svc.Provisioned {
						info.Error = resolveErr.Error()
					}
				}
				infos = append(infos, info)
			}

			b, err := json.MarshalIndent(map[string]any{"config": opts.Config, "services": infos}, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal output")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}
