package topology

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func sample() *Topology {
	return &Topology{
		Formation: FormationLocal,
		CreatedAt: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
		Members: map[string]MemberTopology{
			"arch-01": {Status: "running", Endpoint: LocalEndpoint{PID: 100, Workspace: "/w/arch-01"}},
			"dev-01": {Status: "running", Endpoint: RemoteEndpoint{
				Namespace: "bots", Pod: "dev-01-0", Container: "ralph", Context: "kind-local",
			}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := Path(t.TempDir(), "alpha")
	in := sample()
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Formation != in.Formation || !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("header mismatch: %+v", out)
	}
	if len(out.Members) != 2 {
		t.Fatalf("members = %d", len(out.Members))
	}
	for name, want := range in.Members {
		got := out.Members[name]
		if got.Status != want.Status || got.Endpoint != want.Endpoint {
			t.Fatalf("%s: got %+v want %+v", name, got, want)
		}
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("mode = %o", info.Mode().Perm())
		}
	}
}

func TestEndpointWireFormat(t *testing.T) {
	b, err := json.Marshal(MemberTopology{Status: "running", Endpoint: LocalEndpoint{PID: 9, Workspace: "/w"}})
	if err != nil {
		t.Fatal(err)
	}
	var raw struct {
		Status   string         `json:"status"`
		Endpoint map[string]any `json:"endpoint"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if raw.Endpoint["type"] != "local" || raw.Endpoint["pid"] != float64(9) || raw.Endpoint["workspace"] != "/w" {
		t.Fatalf("unexpected endpoint encoding: %s", b)
	}
}

func TestUnknownEndpointTypeRejected(t *testing.T) {
	doc := `{"formation":"x","created_at":"2026-01-01T00:00:00Z","members":{"m":{"status":"running","endpoint":{"type":"ssh","host":"h"}}}}`
	var top Topology
	err := json.Unmarshal([]byte(doc), &top)
	if !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("expected ErrUnknownEndpoint, got %v", err)
	}
}

func TestMarshalWithoutEndpointFails(t *testing.T) {
	if _, err := json.Marshal(MemberTopology{Status: "running"}); err == nil {
		t.Fatal("expected error for nil endpoint")
	}
}

func TestLoadMissingAndRemoveMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none", FileName)
	top, err := Load(path)
	if err != nil || top != nil {
		t.Fatalf("Load missing = %v, %v", top, err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
}

func TestRemoveExisting(t *testing.T) {
	path := Path(t.TempDir(), "alpha")
	if err := Save(path, sample()); err != nil {
		t.Fatal(err)
	}
	if err := Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("topology still present")
	}
}
