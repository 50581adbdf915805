package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = "llmdesk.yaml"

type File struct {
	BinDir          string        `yaml:"bin_dir,omitempty"`
	LogDir          string        `yaml:"log_dir,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
	Probe           Probe         `yaml:"probe,omitempty"`
	Services        []Service     `yaml:"services,omitempty"`
}

// Probe holds the default probe budget; services may override it.
type Probe struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

type Service struct {
	Name string `yaml:"name"`
	// Provisioned services run the platform binary found in BinDir.
	Provisioned bool              `yaml:"provisioned,omitempty"`
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Cwd         string            `yaml:"cwd,omitempty"`
	HealthURL   string            `yaml:"health_url,omitempty"`
	BaseURL     string            `yaml:"base_url,omitempty"`
	LinkEnv     map[string]string `yaml:"link_env,omitempty"`
	MaxAttempts int               `yaml:"max_attempts,omitempty"`
	Interval    time.Duration     `yaml:"interval,omitempty"`
}

func DefaultPath(dir string) string {
	return filepath.Join(dir, DefaultConfigFilename)
}

// Default describes the bundled model server followed by the Python backend.
func Default() *File {
	return &File{
		BinDir:          "binaries",
		LogDir:          filepath.Join(".llmdesk", "logs"),
		ShutdownTimeout: 3 * time.Second,
		Probe: Probe{
			MaxAttempts: 30,
			Interval:    time.Second,
			Timeout:     2 * time.Second,
		},
		Services: []Service{
			{
				Name:        "ollama",
				Provisioned: true,
				Args:        []string{"serve"},
				HealthURL:   "http://localhost:11434/api/version",
				BaseURL:     "http://localhost:11434",
			},
			{
				Name:      "backend",
				Command:   "python3",
				Args:      []string{"-m", "backend.app"},
				Cwd:       "..",
				HealthURL: "http://localhost:8080/api/health",
				BaseURL:   "http://localhost:8080",
				LinkEnv:   map[string]string{"OLLAMA_BASE_URL": "ollama"},
			},
		},
	}
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg File
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOptional returns Default when path does not exist.
func LoadOptional(path string) (*File, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errors.Wrap(err, "stat config")
	}
	return LoadFromFile(path)
}

func (f *File) applyDefaults() {
	d := Default()
	if len(f.Services) == 0 {
		f.Services = d.Services
	}
	if f.BinDir == "" {
		f.BinDir = d.BinDir
	}
	if f.LogDir == "" {
		f.LogDir = d.LogDir
	}
	if f.ShutdownTimeout <= 0 {
		f.ShutdownTimeout = d.ShutdownTimeout
	}
	if f.Probe.MaxAttempts <= 0 {
		f.Probe.MaxAttempts = d.Probe.MaxAttempts
	}
	if f.Probe.Interval <= 0 {
		f.Probe.Interval = d.Probe.Interval
	}
	if f.Probe.Timeout <= 0 {
		f.Probe.Timeout = d.Probe.Timeout
	}
}

func (f *File) Validate() error {
	seen := map[string]bool{}
	for i, svc := range f.Services {
		if svc.Name == "" {
			return errors.Errorf("services[%d]: missing name", i)
		}
		if seen[svc.Name] {
			return errors.Errorf("services[%d]: duplicate name %q", i, svc.Name)
		}
		if svc.Command == "" && !svc.Provisioned {
			return errors.Errorf("service %q: command or provisioned is required", svc.Name)
		}
		if svc.Command != "" && svc.Provisioned {
			return errors.Errorf("service %q: command and provisioned are exclusive", svc.Name)
		}
		for envVar, target := range svc.LinkEnv {
			if !seen[target] {
				return errors.Errorf("service %q: link_env %s must reference an earlier service, got %q", svc.Name, envVar, target)
			}
		}
		seen[svc.Name] = true
	}
	return nil
}
