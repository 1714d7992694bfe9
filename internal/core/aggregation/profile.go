package aggregation

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StreamProfile is the static configuration of one aggregated stream:
// which keys participate, whether totals carry across windows, and which
// output kinds are materialized at window close.
// Profiles are loaded at startup from YAML files and fingerprinted so stored
// aggregates can be tied back to the exact configuration that produced them.
type StreamProfile struct {
	Name        string   `yaml:"name"`
	FilterKeys  []string `yaml:"filter_keys"` // empty means "include every key"
	Inverse     bool     `yaml:"inverse"`     // listed keys are excluded instead
	Cumulative  bool     `yaml:"cumulative"`  // never reset at window close
	Kinds       []string `yaml:"kinds"`       // requested output kinds
	Fingerprint string   // SHA-256 of the raw YAML file; computed at load time
}

// Validate checks the profile against the supported output kinds.
func (p StreamProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	if len(p.Kinds) == 0 {
		return fmt.Errorf("profile %q: at least one output kind is required", p.Name)
	}
	for _, k := range p.Kinds {
		if !ValidKind(k) {
			return fmt.Errorf("profile %q: unsupported output kind %q", p.Name, k)
		}
	}
	return nil
}

// Filter builds the profile's key filter.
func (p StreamProfile) Filter() KeyFilter {
	return NewKeyFilter(p.FilterKeys, p.Inverse)
}

// ProfileRepository gives access to loaded stream profiles.
type ProfileRepository interface {
	// Get returns the profile with the given name, or an error if not found.
	Get(name string) (*StreamProfile, error)

	// Profiles returns all loaded profiles.
	Profiles() []StreamProfile
}

// FileSystemProfileRepository loads stream profiles from *.yaml files in a
// directory. Each file contains exactly one profile at the top level. Profiles
// are loaded once at startup and cached in memory — no hot reload.
type FileSystemProfileRepository struct {
	dir      string
	profiles map[string]StreamProfile // keyed by Name
}

// NewFileSystemProfileRepository creates a repository and eagerly loads all
// profiles from dir. Returns an error if any profile file is malformed.
func NewFileSystemProfileRepository(dir string) (*FileSystemProfileRepository, error) {
	repo := &FileSystemProfileRepository{
		dir:      dir,
		profiles: make(map[string]StreamProfile),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemProfileRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no profile directory — valid (zero streams configured)
	}
	if err != nil {
		return fmt.Errorf("stream profile dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("stream profile path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading stream profile dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading profile file %s: %w", path, err)
		}

		var p StreamProfile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("parsing profile file %s: %w", path, err)
		}
		if p.Name == "" {
			continue // skip empty / comment-only files
		}

		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile file %s: %w", path, err)
		}

		if _, exists := r.profiles[p.Name]; exists {
			return fmt.Errorf("profile %q: duplicate profile name (check multiple YAML files)", p.Name)
		}

		p.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))
		r.profiles[p.Name] = p
	}
	return nil
}

// Get returns the profile with the given name, or an error if not found.
func (r *FileSystemProfileRepository) Get(name string) (*StreamProfile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("stream profile %q not found", name)
	}
	return &p, nil
}

// Profiles returns all loaded profiles.
func (r *FileSystemProfileRepository) Profiles() []StreamProfile {
	out := make([]StreamProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}
