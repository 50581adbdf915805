package cmds

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/llmdesk/pkg/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	BaseDir string
	Config  string
	BinDir  string
	Timeout time.Duration
}

func AddRootFlags(root *cobra.Command) {
	addRootFlags(root.PersistentFlags())
}

func addRootFlags(fs *pflag.FlagSet) {
	fs.String("base-dir", "", "Directory relative paths are resolved against (defaults to the config file's directory)")
	fs.String("config", "", "Path to config file (defaults to llmdesk.yaml in the current directory)")
	fs.String("bin-dir", "", "Directory holding the bundled model-server binaries (overrides bin_dir)")
	fs.Duration("timeout", 2*time.Second, "Per-request health probe timeout")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	fs := cmd.Root().PersistentFlags()

	cfgPath, err := fs.GetString("config")
	if err != nil {
		return rootOptions{}, err
	}
	if cfgPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
		cfgPath = config.DefaultPath(cwd)
	}
	cfgPath, err = filepath.Abs(cfgPath)
	if err != nil {
		return rootOptions{}, err
	}

	baseDir, err := fs.GetString("base-dir")
	if err != nil {
		return rootOptions{}, err
	}
	if baseDir == "" {
		baseDir = filepath.Dir(cfgPath)
	}
	baseDir, err = filepath.Abs(baseDir)
	if err != nil {
		return rootOptions{}, err
	}

	binDir, err := fs.GetString("bin-dir")
	if err != nil {
		return rootOptions{}, err
	}
	if binDir != "" {
		if binDir, err = filepath.Abs(binDir); err != nil {
			return rootOptions{}, err
		}
	}

	timeout, err := fs.GetDuration("timeout")
	if err != nil {
		return rootOptions{}, err
	}
	if timeout <= 0 {
		return rootOptions{}, errors.New("timeout must be > 0")
	}

	return rootOptions{
		BaseDir: baseDir,
		Config:  cfgPath,
		BinDir:  binDir,
		Timeout: timeout,
	}, nil
}
