// Package provision maps the current platform to the bundled model-server
// binary and checks that it is present before supervision starts.
package provision

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/pkg/errors"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

type Platform struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

func Current() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// anyArch matches every architecture of an OS.
const anyArch = "*"

// Table is a pure lookup from platform to binary file name.
type Table map[Platform]string

// DefaultTable lists the ollama builds shipped next to the application.
var DefaultTable = Table{
	{OS: "darwin", Arch: "arm64"}:  "ollama-aarch64-apple-darwin",
	{OS: "darwin", Arch: "amd64"}:  "ollama-x86_64-apple-darwin",
	{OS: "linux", Arch: "arm64"}:   "ollama-aarch64-unknown-linux",
	{OS: "linux", Arch: "amd64"}:   "ollama-x86_64-unknown-linux",
	{OS: "windows", Arch: anyArch}: "ollama.exe",
}

func (t Table) Lookup(p Platform) (string, error) {
	if name, ok := t[p]; ok {
		return name, nil
	}
	if name, ok := t[Platform{OS: p.OS, Arch: anyArch}]; ok {
		return name, nil
	}
	return "", errors.Wrapf(ErrUnsupportedPlatform, "%s", p)
}

// Entries returns the table sorted by OS then arch.
func (t Table) Entries() []Entry {
	out := make([]Entry, 0, len(t))
	for p, name := range t {
		out = append(out, Entry{Platform: p, Binary: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OS != out[j].OS {
			return out[i].OS < out[j].OS
		}
		return out[i].Arch < out[j].Arch
	})
	return out
}

type Entry struct {
	Platform
	Binary string `json:"binary"`
}

type Provisioner struct {
	BinDir   string
	Table    Table
	Platform Platform
}

func New(binDir string) *Provisioner {
	return &Provisioner{BinDir: binDir, Table: DefaultTable, Platform: Current()}
}

// Resolve returns the absolute path of the binary for the configured platform.
// It fails if the file is missing, is a directory, or is not executable.
func (p *Provisioner) Resolve() (string, error) {
	table := p.Table
	if table == nil {
		table = DefaultTable
	}
	name, err := table.Lookup(p.Platform)
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(p.BinDir, name))
	if err != nil {
		return "", errors.Wrap(err, "abs binary path")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "stat binary %s", path)
	}
	if fi.IsDir() {
		return "", errors.Errorf("binary %s is a directory", path)
	}
	if p.Platform.OS != "windows" && fi.Mode().Perm()&0o111 == 0 {
		return "", errors.Errorf("binary %s is not executable", path)
	}
	return path, nil
}
