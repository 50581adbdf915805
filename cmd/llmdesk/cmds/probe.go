package cmds

import (
	"fmt"

	"github.com/go-go-golems/llmdesk/pkg/health"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe URL...",
		Short: "Check whether something is answering at each endpoint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			p := health.NewHTTPProber(opts.Timeout)
			dead := 0
			for _, endpoint := range args {
				status := "alive"
				if !p.Probe(cmd.Context(), endpoint) {
					status = "dead"
					dead++
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", status, endpoint)
			}
			if dead > 0 {
				return errors.Errorf("%d of %d endpoints not alive", dead, len(args))
			}
			return nil
		},
	}
}
