package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/llmdesk/pkg/provision"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List the bundled model-server binary for each supported platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			current := provision.Current()

			type row struct {
				provision.Entry
				Current bool `json:"current,omitempty"`
			}
			var rows []row
			for _, e := range provision.DefaultTable.Entries() {
				rows = append(rows, row{Entry: e, Current: e.OS == current.OS && (e.Arch == current.Arch || e.Arch == "*")})
			}

			b, err := json.MarshalIndent(map[string]any{
				"current":   current,
				"platforms": rows,
			}, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal output")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}
