package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeerId_Endpoint(t *testing.T) {
	p, err := ParsePeerId("192.168.1.1:8080:3:1")
	require.NoError(t, err)
	assert.False(t, p.IsHostname())
	assert.Equal(t, "192.168.1.1", p.Address())
	assert.Equal(t, 8080, p.Port())
	assert.Equal(t, 3, p.Idx)
	assert.Equal(t, RoleWitness, p.Role)
}

func TestParsePeerId_Hostname(t *testing.T) {
	p, err := ParsePeerId("node1.example.com:8080:0:0")
	require.NoError(t, err)
	assert.True(t, p.IsHostname())
	assert.Equal(t, "node1.example.com", p.Address())
}

func TestParsePeerId_WithZones(t *testing.T) {
	p, err := ParsePeerId("10.0.0.1:8080:0:zone-a:zone-b:0")
	require.NoError(t, err)
	assert.Equal(t, "zone-a", p.PreferZone)
	assert.Equal(t, "zone-b", p.CurrentZone)
}

func TestParsePeerId_Minimal(t *testing.T) {
	p, err := ParsePeerId("10.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Idx)
	assert.Equal(t, RoleReplica, p.Role)
}

func TestParsePeerId_Invalid(t *testing.T) {
	_, err := ParsePeerId("")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = ParsePeerId("onlyaddress")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = ParsePeerId("10.0.0.1:notaport")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPeerId_RoundTrip(t *testing.T) {
	for _, s := range []string{
		"192.168.1.1:8080:3:1",
		"node1.example.com:9000:0:0",
		"10.0.0.1:8080:2:zone-a:zone-b:1",
	} {
		p, err := ParsePeerId(s)
		require.NoError(t, err)
		reparsed, err := ParsePeerId(p.String())
		require.NoError(t, err)
		assert.True(t, p.Equal(reparsed), "round trip %q -> %q -> %q changed identity", s, p.String(), reparsed.String())
	}
}

func TestPeerId_EqualIgnoresRoleAndZone(t *testing.T) {
	a, err := ParsePeerId("10.0.0.1:8080:0:0")
	require.NoError(t, err)
	b, err := ParsePeerId("10.0.0.1:8080:0:1")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestConfiguration_DiffsAndAdd(t *testing.T) {
	p1, _ := ParsePeerId("10.0.0.1:8080:0:0")
	p2, _ := ParsePeerId("10.0.0.2:8080:0:0")
	p3, _ := ParsePeerId("10.0.0.3:8080:0:0")

	oldConf := NewConfiguration(p1, p2)
	newConf := NewConfiguration(p2, p3)

	included, excluded := newConf.Diffs(oldConf)
	require.Len(t, included, 1)
	require.Len(t, excluded, 1)
	assert.True(t, included[0].Equal(p3))
	assert.True(t, excluded[0].Equal(p1))
}

func TestConfiguration_ContainsAndRemove(t *testing.T) {
	p1, _ := ParsePeerId("10.0.0.1:8080:0:0")
	p2, _ := ParsePeerId("10.0.0.2:8080:0:0")
	conf := NewConfiguration(p1, p2)
	assert.True(t, conf.Contains(p1))
	conf.Remove(p1)
	assert.False(t, conf.Contains(p1))
	assert.Equal(t, 1, conf.Size())
}

func TestConfiguration_Equals(t *testing.T) {
	p1, _ := ParsePeerId("10.0.0.1:8080:0:0")
	p2, _ := ParsePeerId("10.0.0.2:8080:0:0")
	a := NewConfiguration(p1, p2)
	b := NewConfiguration(p2, p1)
	assert.True(t, a.Equals(b))
}
