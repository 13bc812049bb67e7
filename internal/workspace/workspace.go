// Package workspace discovers a team's members and the checkout each one
// works in.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Marker is the directory that identifies a provisioned workspace.
	Marker = ".botminter"
	// ManifestFile sits at the root of the team repository.
	ManifestFile = "botminter.yml"
	// CurrentSchema is the team layout this build understands.
	CurrentSchema = "1.0"
)

var (
	ErrNoManifest     = errors.New("team repository has no " + ManifestFile)
	ErrSchemaMismatch = errors.New("unsupported team schema")
)

// Manifest is the subset of botminter.yml the supervisor needs.
type Manifest struct {
	Name          string `yaml:"name"`
	Profile       string `yaml:"profile"`
	SchemaVersion string `yaml:"schema_version"`
}

// ReadManifest parses <teamRepo>/botminter.yml.
func ReadManifest(teamRepo string) (*Manifest, error) {
	path := filepath.Join(teamRepo, ManifestFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrNoManifest, teamRepo)
		}
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

// RequireCurrentSchema fails unless the manifest carries CurrentSchema.
func (m *Manifest) RequireCurrentSchema(team string) error {
	if m.SchemaVersion != CurrentSchema {
		return fmt.Errorf("%w: team %q uses schema %q, this build requires %s; upgrade the team first",
			ErrSchemaMismatch, team, m.SchemaVersion, CurrentSchema)
	}
	return nil
}

// Members lists the hired members: the non-hidden directories under
// <teamRepo>/team, sorted. A missing directory means no members.
func Members(teamRepo string) ([]string, error) {
	return subdirs(filepath.Join(teamRepo, "team"))
}

// MemberDir is where member's workspace lives inside the workzone.
func MemberDir(workzone, team, member string) string {
	return filepath.Join(workzone, team, member)
}

// Find returns member's workspace. A project checkout inside the member
// directory that carries the marker wins; otherwise the member directory
// itself qualifies when it carries the marker.
func Find(workzone, team, member string) (string, bool) {
	dir := MemberDir(workzone, team, member)
	children, err := subdirs(dir)
	if err == nil {
		for _, c := range children {
			candidate := filepath.Join(dir, c)
			if hasMarker(candidate) {
				return candidate, true
			}
		}
	}
	if hasMarker(dir) {
		return dir, true
	}
	return "", false
}

func hasMarker(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, Marker))
	return err == nil && info.IsDir()
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
