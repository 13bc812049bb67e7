package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), FileName))
	s, err := st.Load()
	require.NoError(t, err)
	assert.Empty(t, s.Members)
	assert.NotNil(t, s.Members)
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewStore(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse state")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)
	st := NewStore(path)

	in := New()
	in.Put(Key("alpha", "arch-01"), Entry{
		PID:       4242,
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Workspace: "/work/alpha/arch-01/repo",
	})
	in.Put(Key("beta", "dev-01"), Entry{PID: 7, StartedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, st.Save(in))

	out, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s := New()
	s.Put(Key("t", "m"), Entry{PID: 1, StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Workspace: "/w"})
	require.NoError(t, NewStore(path).Save(s))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	e := raw["members"]["t/m"]
	assert.Equal(t, float64(1), e["pid"])
	assert.Equal(t, "2026-01-02T03:04:05Z", e["started_at"])
	assert.Equal(t, "/w", e["workspace"])
}

func TestReconcileRemovesExactlyDeadEntries(t *testing.T) {
	cases := []struct {
		name string
		live map[int]bool
	}{
		{"all live", map[int]bool{1: true, 2: true, 3: true}},
		{"all dead", map[int]bool{1: false, 2: false, 3: false}},
		{"mixed", map[int]bool{1: true, 2: false, 3: true}},
		{"one dead", map[int]bool{1: false, 2: true, 3: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New()
			s.Put(Key("t", "a"), Entry{PID: 1})
			s.Put(Key("t", "b"), Entry{PID: 2})
			s.Put(Key("u", "c"), Entry{PID: 3})

			removed := s.reconcile(func(e Entry) bool { return tc.live[e.PID] })

			var wantRemoved []string
			for _, key := range []string{"t/a", "t/b", "u/c"} {
				pid := map[string]int{"t/a": 1, "t/b": 2, "u/c": 3}[key]
				_, present := s.Get(key)
				if tc.live[pid] {
					assert.True(t, present, "live entry %s removed", key)
				} else {
					assert.False(t, present, "dead entry %s kept", key)
					wantRemoved = append(wantRemoved, key)
				}
			}
			assert.Equal(t, wantRemoved, removed)
		})
	}
}

func TestReconcileWithRealLiveness(t *testing.T) {
	s := New()
	s.Put(Key("t", "self"), Entry{PID: os.Getpid()})
	s.Put(Key("t", "ghost"), Entry{PID: 2147483647})

	removed := s.Reconcile()
	assert.Equal(t, []string{"t/ghost"}, removed)
	_, ok := s.Get(Key("t", "self"))
	assert.True(t, ok)
}

func TestReconcileDropsRecycledPID(t *testing.T) {
	self := os.Getpid()
	s := New()
	// Our own PID, recorded long before this process started: the PID now
	// belongs to someone else.
	s.Put(Key("t", "recycled"), Entry{PID: self, StartedAt: time.Now().Add(-24 * time.Hour)})
	s.Put(Key("t", "current"), Entry{PID: self, StartedAt: time.Now()})

	removed := s.Reconcile()
	assert.Equal(t, []string{"t/recycled"}, removed)
	_, ok := s.Get(Key("t", "current"))
	assert.True(t, ok)
}

func TestTeamMembersAndKeys(t *testing.T) {
	s := New()
	s.Put(Key("alpha", "b"), Entry{PID: 1})
	s.Put(Key("alpha", "a"), Entry{PID: 2})
	s.Put(Key("beta", "c"), Entry{PID: 3})

	assert.Equal(t, []string{"a", "b"}, s.TeamMembers("alpha"))
	assert.Empty(t, s.TeamMembers("gamma"))

	team, member, ok := SplitKey("alpha/a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", team)
	assert.Equal(t, "a", member)
}
