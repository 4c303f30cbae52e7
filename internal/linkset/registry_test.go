package linkset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkset.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validSeed = `accounts:
  - name: master-1
    api_key: mk
    secret_key: ms
    is_master: true
    is_active: true
    leverage: 20
    risk_percentage: 15
  - name: follower-1
    api_key: fk
    secret_key: fs
    is_active: true
links:
  - master: master-1
    follower: follower-1
    is_active: true
    copy_percentage: 50
`

func TestNewRegistry_LoadsAndDefaults(t *testing.T) {
	reg, err := NewRegistry(writeSeedFile(t, validSeed))
	require.NoError(t, err)

	snap := reg.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	require.Len(t, snap.Accounts, 2)
	require.Len(t, snap.Links, 1)

	master := snap.Accounts[0]
	assert.Equal(t, "master-1", master.Name)
	assert.True(t, master.IsMaster)
	assert.Equal(t, 20, master.Leverage)
	assert.Equal(t, 15.0, master.RiskPercentage)

	// Unset account tuning falls back to defaults.
	follower := snap.Accounts[1]
	assert.Equal(t, 10, follower.Leverage)
	assert.Equal(t, 10.0, follower.RiskPercentage)

	link := snap.Links[0]
	assert.Equal(t, 50.0, link.CopyPercentage)
	assert.Equal(t, 1.0, link.RiskMultiplier)
	assert.Equal(t, 50.0, link.MaxRiskPercentage)
}

func TestNewRegistry_RejectsBadFiles(t *testing.T) {
	cases := []struct {
		name string
		seed string
	}{
		{
			name: "missing credentials",
			seed: `accounts:
  - name: master-1
    api_key: mk
    secret_key: ""
`,
		},
		{
			name: "unknown field",
			seed: `accounts:
  - name: master-1
    api_key: mk
    secret_key: ms
    lverage: 20
`,
		},
		{
			name: "link to unknown account",
			seed: `accounts:
  - name: master-1
    api_key: mk
    secret_key: ms
    is_master: true
links:
  - master: master-1
    follower: ghost
`,
		},
		{
			name: "link master not declared as master",
			seed: `accounts:
  - name: a
    api_key: k
    secret_key: s
  - name: b
    api_key: k
    secret_key: s
links:
  - master: a
    follower: b
`,
		},
		{
			name: "link follower declared as master",
			seed: `accounts:
  - name: a
    api_key: k
    secret_key: s
    is_master: true
  - name: b
    api_key: k
    secret_key: s
    is_master: true
links:
  - master: a
    follower: b
`,
		},
		{
			name: "self link",
			seed: `accounts:
  - name: a
    api_key: k
    secret_key: s
    is_master: true
links:
  - master: a
    follower: a
`,
		},
		{
			name: "leverage out of range",
			seed: `accounts:
  - name: a
    api_key: k
    secret_key: s
    leverage: 300
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(writeSeedFile(t, tc.seed))
			assert.Error(t, err)
		})
	}
}

func TestReload_AppliesNewFileAndNotifies(t *testing.T) {
	path := writeSeedFile(t, validSeed)
	reg, err := NewRegistry(path)
	require.NoError(t, err)

	updates := make(chan Snapshot, 1)
	reg.OnChange(func(snap Snapshot) { updates <- snap })

	// Rewrite with a second follower and link, then drive the reload the
	// watcher callback runs.
	updatedSeed := `accounts:
  - name: master-1
    api_key: mk
    secret_key: ms
    is_master: true
    is_active: true
  - name: follower-1
    api_key: fk
    secret_key: fs
    is_active: true
  - name: follower-2
    api_key: fk2
    secret_key: fs2
    is_active: true
links:
  - master: master-1
    follower: follower-1
    is_active: true
  - master: master-1
    follower: follower-2
    is_active: true
`
	require.NoError(t, os.WriteFile(path, []byte(updatedSeed), 0o644))
	require.NoError(t, reg.reload())
	reg.notifyListeners()

	select {
	case snap := <-updates:
		// The file watcher may fire for the rewrite too, so only a lower
		// bound on the version is stable.
		assert.GreaterOrEqual(t, snap.Version, int64(2))
		assert.Len(t, snap.Accounts, 3)
		assert.Len(t, snap.Links, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not notified")
	}
}

func TestReload_KeepsSnapshotOnBadFile(t *testing.T) {
	path := writeSeedFile(t, validSeed)
	reg, err := NewRegistry(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("accounts: []\n"), 0o644))
	assert.Error(t, reg.reload())

	snap := reg.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Accounts, 2)
}

func TestSnapshot_IsACopy(t *testing.T) {
	reg, err := NewRegistry(writeSeedFile(t, validSeed))
	require.NoError(t, err)

	snap := reg.Snapshot()
	snap.Accounts[0].Name = "mutated"
	assert.Equal(t, "master-1", reg.Snapshot().Accounts[0].Name)
}
