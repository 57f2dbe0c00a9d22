package trigger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

func TestRules_Lifecycle(t *testing.T) {
	rules := NewRules()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rules.clock = func() time.Time { return now }

	added, err := rules.Add(vehicleRule())
	require.NoError(t, err)
	require.NotEmpty(t, added.ID)
	assert.Equal(t, now, added.CreatedAt)
	assert.Equal(t, now, added.UpdatedAt)
	assert.Equal(t, 1, rules.Len())

	// Returned rules are copies.
	added.SourceQuery["classification"] = "person"
	got, err := rules.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, "vehicle", got.SourceQuery["classification"])

	now = now.Add(time.Minute)
	body := vehicleRule()
	body.SourceQuery["classification"] = "smoke"
	replaced, err := rules.Replace(added.ID, body)
	require.NoError(t, err)
	assert.Equal(t, added.ID, replaced.ID)
	assert.Equal(t, added.CreatedAt, replaced.CreatedAt)
	assert.Equal(t, now, replaced.UpdatedAt)
	assert.Equal(t, "smoke", replaced.SourceQuery["classification"])

	require.NoError(t, rules.Remove(added.ID))
	_, err = rules.Get(added.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, rules.Remove(added.ID), types.ErrNotFound)
	_, err = rules.Replace(added.ID, vehicleRule())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRules_AddRejectsInvalid(t *testing.T) {
	rules := NewRules()
	r := vehicleRule()
	r.Kind = KindGeo
	_, err := rules.Add(r)
	assert.ErrorIs(t, err, ErrUnsupportedRule)
	assert.Equal(t, 0, rules.Len())
}

func TestRules_ForFiltersByType(t *testing.T) {
	rules := NewRules()
	tick := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rules.clock = func() time.Time { tick = tick.Add(time.Second); return tick }

	first, err := rules.Add(vehicleRule())
	require.NoError(t, err)
	other := vehicleRule()
	other.SourceQuery = map[string]any{"type": "force"}
	_, err = rules.Add(other)
	require.NoError(t, err)
	second, err := rules.Add(vehicleRule())
	require.NoError(t, err)

	got := rules.For("detection")
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Empty(t, rules.For("alert"))
	assert.Len(t, rules.List(), 3)
}

func TestRules_SaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	empty, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	rules := NewRules()
	added, err := rules.Add(vehicleRule())
	require.NoError(t, err)
	require.NoError(t, rules.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	got, err := loaded.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, added.SourceQuery, got.SourceQuery)
	assert.Equal(t, added.Actions, got.Actions)
	assert.Equal(t, "when a vehicle is detected", got.RawTrigger)
	assert.True(t, added.CreatedAt.Equal(got.CreatedAt))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestLoadFile_RejectsInvalidRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"r1","type":"geoRule","sourceQuery":{"type":"force"},"actions":[]}]`), 0o644))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrUnsupportedRule)

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}
