package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventshift/internal/event"
)

func TestReadMap(t *testing.T) {
	csvData := "old_id,new_id\nu1,nu1\n ,skipped\nu2,nu2\n"
	m, err := ReadMap(strings.NewReader(csvData))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"u1": "nu1", "u2": "nu2"}, m)
}

func TestReadMapColumnOrderDoesNotMatter(t *testing.T) {
	m, err := ReadMap(strings.NewReader("new_id,old_id\nnu1,u1\n"))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"u1": "nu1"}, m)
}

func TestReadMapBadHeaderIsFatal(t *testing.T) {
	_, err := ReadMap(strings.NewReader("from,to\nu1,nu1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "old_id")
}

func evt(userID, deviceID string) *event.TransformedEvent {
	return &event.TransformedEvent{UserID: userID, DeviceID: deviceID}
}

func TestRemapRewritesInScope(t *testing.T) {
	r := NewRemapper(map[string]string{"u1": "nu1"}, map[string]string{"d1": "nd1"}, ScopeBoth, UnmappedKeep)
	var c Counters

	e := evt("u1", "d1")
	require.True(t, r.Remap(e, &c))
	require.Equal(t, "nu1", e.UserID)
	require.Equal(t, "nd1", e.DeviceID)
	require.Equal(t, 1, c.UserRemapped)
	require.Equal(t, 1, c.DeviceRemapped)
}

func TestRemapScopeLimitsRewrites(t *testing.T) {
	r := NewRemapper(map[string]string{"u1": "nu1"}, map[string]string{"d1": "nd1"}, ScopeUserID, UnmappedKeep)
	var c Counters

	e := evt("u1", "d1")
	require.True(t, r.Remap(e, &c))
	require.Equal(t, "nu1", e.UserID)
	require.Equal(t, "d1", e.DeviceID, "device_id out of scope stays untouched")
}

func TestRemapUnmappedKeepPolicy(t *testing.T) {
	r := NewRemapper(map[string]string{"u1": "nu1"}, nil, ScopeUserID, UnmappedKeep)
	var c Counters

	e := evt("stranger", "d1")
	require.True(t, r.Remap(e, &c))
	require.Equal(t, "stranger", e.UserID)
	require.Equal(t, 1, c.UserUnmappedSeen)
	require.Equal(t, 0, c.DroppedUnmapped)
}

func TestRemapUnmappedDropPolicy(t *testing.T) {
	// The device map would match, but the unmapped user id still drops the
	// event; both identifiers are evaluated first so counters cover both.
	r := NewRemapper(map[string]string{"known": "k"}, map[string]string{"d1": "nd1"}, ScopeBoth, UnmappedDrop)
	var c Counters

	e := evt("u1", "d1")
	require.False(t, r.Remap(e, &c))
	require.Equal(t, 1, c.UserUnmappedSeen)
	require.Equal(t, 1, c.DeviceRemapped)
	require.Equal(t, 1, c.DroppedUnmapped)

	// A second dropped event bumps the aggregate counter exactly once more.
	require.False(t, r.Remap(evt("u2", "d1"), &c))
	require.Equal(t, 2, c.DroppedUnmapped)
}

func TestRemapMissingIdentifier(t *testing.T) {
	r := NewRemapper(map[string]string{"u1": "nu1"}, nil, ScopeUserID, UnmappedDrop)
	var c Counters

	e := evt("", "d1")
	require.True(t, r.Remap(e, &c), "missing identifier is not a drop")
	require.Equal(t, 1, c.UserMissing)
}

func TestRemapUserMapDoublesForDeviceScope(t *testing.T) {
	r := NewRemapper(map[string]string{"x1": "y1"}, nil, ScopeBoth, UnmappedKeep)
	var c Counters

	e := evt("x1", "x1")
	require.True(t, r.Remap(e, &c))
	require.Equal(t, "y1", e.UserID)
	require.Equal(t, "y1", e.DeviceID)
}

func TestRemapDisabledWithoutMaps(t *testing.T) {
	r := NewRemapper(nil, nil, ScopeBoth, UnmappedDrop)
	require.False(t, r.Enabled())

	var c Counters
	e := evt("u1", "d1")
	require.True(t, r.Remap(e, &c))
	require.Equal(t, Counters{}, c)
}
