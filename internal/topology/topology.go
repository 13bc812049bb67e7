// Package topology records where each member of a team runs. It is written
// after a successful start and removed once every member has stopped; other
// placement tooling reads it.
package topology

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/botminter/internal/fileutil"
)

const (
	FileName       = "topology.json"
	FormationLocal = "local"

	EndpointLocal  = "local"
	EndpointRemote = "remote"
)

var ErrUnknownEndpoint = errors.New("unknown endpoint type")

// Topology is the placement of every member of one team.
type Topology struct {
	Formation string                    `json:"formation"`
	CreatedAt time.Time                 `json:"created_at"`
	Members   map[string]MemberTopology `json:"members"`
}

type MemberTopology struct {
	Status   string
	Endpoint Endpoint
}

// Endpoint is a closed set of placements. New backends add a variant here
// and a case in the codec below.
type Endpoint interface {
	endpointType() string
}

// LocalEndpoint is a process on this host.
type LocalEndpoint struct {
	PID       int    `json:"pid"`
	Workspace string `json:"workspace"`
}

// RemoteEndpoint is a container in a cluster.
type RemoteEndpoint struct {
	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`
	Container string `json:"container"`
	Context   string `json:"context"`
}

func (LocalEndpoint) endpointType() string  { return EndpointLocal }
func (RemoteEndpoint) endpointType() string { return EndpointRemote }

type memberJSON struct {
	Status   string          `json:"status"`
	Endpoint json.RawMessage `json:"endpoint"`
}

func (m MemberTopology) MarshalJSON() ([]byte, error) {
	var (
		ep  []byte
		err error
	)
	switch v := m.Endpoint.(type) {
	case LocalEndpoint:
		ep, err = json.Marshal(struct {
			Type string `json:"type"`
			LocalEndpoint
		}{EndpointLocal, v})
	case RemoteEndpoint:
		ep, err = json.Marshal(struct {
			Type string `json:"type"`
			RemoteEndpoint
		}{EndpointRemote, v})
	case nil:
		return nil, errors.New("member topology without endpoint")
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEndpoint, v)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(memberJSON{Status: m.Status, Endpoint: ep})
}

func (m *MemberTopology) UnmarshalJSON(b []byte) error {
	var raw memberJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw.Endpoint, &tag); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	switch tag.Type {
	case EndpointLocal:
		var ep LocalEndpoint
		if err := json.Unmarshal(raw.Endpoint, &ep); err != nil {
			return err
		}
		m.Endpoint = ep
	case EndpointRemote:
		var ep RemoteEndpoint
		if err := json.Unmarshal(raw.Endpoint, &ep); err != nil {
			return err
		}
		m.Endpoint = ep
	default:
		return fmt.Errorf("%w %q", ErrUnknownEndpoint, tag.Type)
	}
	m.Status = raw.Status
	return nil
}

// Path is the topology file of team inside the workzone.
func Path(workzone, team string) string {
	return filepath.Join(workzone, team, FileName)
}

// Save writes t atomically, owner-only.
func Save(path string, t *Topology) error {
	if err := fileutil.AtomicWriteJSON(path, t, 0o600); err != nil {
		return fmt.Errorf("write topology %s: %w", path, err)
	}
	return nil
}

// Load returns nil without error when no topology has been written.
func Load(path string) (*Topology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	var t Topology
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse topology %s: %w", path, err)
	}
	return &t, nil
}

// Remove deletes the topology file; a missing file is not an error.
func Remove(path string) error { return fileutil.RemoveIfExists(path) }
