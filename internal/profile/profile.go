// internal/profile/profile.go
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github-repo-mirror/internal/config"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns the profiles file location under the user config
// directory, falling back to the working directory when that is not
// resolvable.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "profiles.yaml"
	}
	return filepath.Join(dir, "github-repo-mirror", "profiles.yaml")
}

// Profile is a named preset of run settings. Only fields present in
// the file override the base configuration.
type Profile struct {
	Description string `yaml:"description"`

	Target     *string `yaml:"target"`
	Org        *bool   `yaml:"org"`
	Visibility *string `yaml:"visibility"`
	Starred    *bool   `yaml:"starred"`
	Watched    *bool   `yaml:"watched"`
	Orgs       *bool   `yaml:"orgs"`
	Gists      *bool   `yaml:"gists"`

	Include      *string  `yaml:"include"`
	Exclude      *string  `yaml:"exclude"`
	ExcludeNames []string `yaml:"exclude_names"`
	SkipForks    *bool   `yaml:"skip_forks"`
	SkipArchived *bool   `yaml:"skip_archived"`
	MaxSizeKB    *int64  `yaml:"max_size_kb"`

	Workers *int  `yaml:"workers"`
	Mirror  *bool `yaml:"mirror"`
	LFS     *bool `yaml:"lfs"`
	NoSSH   *bool `yaml:"no_ssh"`

	Exports []string `yaml:"exports"`
}

// File is the on-disk shape of a profiles file.
type File struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Load reads a profiles file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse profiles file %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the profiles file, creating parent directories as
// needed.
func (f *File) Save(path string) error {
	raw, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create profiles directory: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write profiles file %s: %w", path, err)
	}
	return nil
}

// Set stores a profile under name, replacing any existing one.
func (f *File) Set(name string, p Profile) {
	if f.Profiles == nil {
		f.Profiles = map[string]Profile{}
	}
	f.Profiles[name] = p
}

// Delete removes the named profile.
func (f *File) Delete(name string) error {
	if _, ok := f.Profiles[name]; !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	delete(f.Profiles, name)
	return nil
}

// Render returns the named profile as YAML for display.
func (f *File) Render(name string) (string, error) {
	p, ok := f.Profiles[name]
	if !ok {
		return "", fmt.Errorf("unknown profile %q", name)
	}
	raw, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode profile %q: %w", name, err)
	}
	return string(raw), nil
}

// Names returns the profile names in stable order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply overlays the named profile onto cfg. The result is validated
// again, since a profile can introduce a bad pattern or worker count.
func (f *File) Apply(name string, cfg *config.Config) error {
	p, ok := f.Profiles[name]
	if !ok {
		return fmt.Errorf("unknown profile %q", name)
	}

	if p.Target != nil {
		cfg.Target = *p.Target
	}
	if p.Org != nil {
		cfg.TargetOrg = *p.Org
	}
	if p.Visibility != nil {
		cfg.Visibility = *p.Visibility
	}
	if p.Starred != nil {
		cfg.Starred = *p.Starred
	}
	if p.Watched != nil {
		cfg.Watched = *p.Watched
	}
	if p.Orgs != nil {
		cfg.Orgs = *p.Orgs
	}
	if p.Gists != nil {
		cfg.Gists = *p.Gists
	}
	if p.Include != nil {
		cfg.Include = *p.Include
	}
	if p.Exclude != nil {
		cfg.Exclude = *p.Exclude
	}
	if p.ExcludeNames != nil {
		cfg.ExcludeNames = p.ExcludeNames
	}
	if p.SkipForks != nil {
		cfg.SkipForks = *p.SkipForks
	}
	if p.SkipArchived != nil {
		cfg.SkipArchived = *p.SkipArchived
	}
	if p.MaxSizeKB != nil {
		cfg.MaxSizeKB = *p.MaxSizeKB
	}
	if p.Workers != nil {
		cfg.Workers = *p.Workers
	}
	if p.Mirror != nil {
		cfg.Mirror = *p.Mirror
	}
	if p.LFS != nil {
		cfg.LFS = *p.LFS
	}
	if p.NoSSH != nil {
		cfg.NoSSH = *p.NoSSH
	}
	if p.Exports != nil {
		cfg.Exports = p.Exports
	}

	return cfg.Validate()
}

// FromConfig captures the current run settings of cfg as a profile,
// so the same selection can be replayed by name later.
func FromConfig(cfg *config.Config, description string) Profile {
	return Profile{
		Description:  description,
		Target:       ptr(cfg.Target),
		Org:          ptr(cfg.TargetOrg),
		Visibility:   ptr(cfg.Visibility),
		Starred:      ptr(cfg.Starred),
		Watched:      ptr(cfg.Watched),
		Orgs:         ptr(cfg.Orgs),
		Gists:        ptr(cfg.Gists),
		Include:      ptr(cfg.Include),
		Exclude:      ptr(cfg.Exclude),
		ExcludeNames: append([]string(nil), cfg.ExcludeNames...),
		SkipForks:    ptr(cfg.SkipForks),
		SkipArchived: ptr(cfg.SkipArchived),
		MaxSizeKB:    ptr(cfg.MaxSizeKB),
		Workers:      ptr(cfg.Workers),
		Mirror:       ptr(cfg.Mirror),
		LFS:          ptr(cfg.LFS),
		NoSSH:        ptr(cfg.NoSSH),
		Exports:      append([]string(nil), cfg.Exports...),
	}
}

func ptr[T any](v T) *T { return &v }
