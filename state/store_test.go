package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhartley/execution-core/models"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "state.json"))

	st := Empty()
	st.Signals = append(st.Signals, models.PendingSignal{Ticker: "AAPL", Action: models.ActionBuy, CreatedAt: time.Now()})
	st.Positions = append(st.Positions, models.TrackedPosition{Ticker: "MSFT", Quantity: 10})
	st.Cooldowns = append(st.Cooldowns, models.Cooldown{Ticker: "TSLA", Until: time.Now().Add(time.Hour)})
	st.OutstandingOrders["order-1"] = "AAPL"

	require.NoError(t, s.Save(st))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, loaded.SchemaVersion)
	assert.Len(t, loaded.Signals, 1)
	assert.Equal(t, "AAPL", loaded.Signals[0].Ticker)
	assert.Len(t, loaded.Positions, 1)
	assert.Len(t, loaded.Cooldowns, 1)
	assert.Equal(t, "AAPL", loaded.OutstandingOrders["order-1"])
}

func TestStore_LoadMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "missing.json"))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, loaded.SchemaVersion)
	assert.Empty(t, loaded.Signals)
	assert.NotNil(t, loaded.OutstandingOrders)
}

func TestStore_LoadCorruptFileQuarantinesAndStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))
	s := New(path)

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, loaded.SchemaVersion)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawBackup bool
	for _, e := range entries {
		if e.Name() != "state.json" {
			sawBackup = true
		}
	}
	assert.True(t, sawBackup, "expected a quarantined backup file alongside state.json")
}

func TestStore_Reset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New(path)
	require.NoError(t, s.Save(Empty()))

	require.NoError(t, s.Reset())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Reset on an already-missing file is a no-op, not an error.
	assert.NoError(t, s.Reset())
}

func TestMigrate_BlankVersionUpgradesToCurrent(t *testing.T) {
	migrated, ok := migrate(State{})
	assert.True(t, ok)
	assert.Equal(t, CurrentSchemaVersion, migrated.SchemaVersion)
}

func TestMigrate_UnknownFutureVersionFails(t *testing.T) {
	_, ok := migrate(State{SchemaVersion: "99"})
	assert.False(t, ok)
}
