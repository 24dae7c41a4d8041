package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Lifecycle(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m := New("s-1", Source{Kind: SourcePlaylist, ID: "p1", Name: "Party"}, created)

	assert.Equal(t, "s-1", m.GetSessionID())
	assert.Equal(t, PhaseReady, m.GetPhase())
	assert.Equal(t, "Party", m.GetSource().Name)

	started := created.Add(time.Minute)
	assert.True(t, m.Activate(started))
	assert.False(t, m.Activate(started.Add(time.Second)))
	assert.Equal(t, PhaseActive, m.GetPhase())

	ended := started.Add(time.Hour)
	assert.True(t, m.End(ended))
	assert.False(t, m.End(ended.Add(time.Second)))
	assert.False(t, m.Activate(ended))

	c, s, e := m.GetTimes()
	assert.Equal(t, created, c)
	require.NotNil(t, s)
	require.NotNil(t, e)
	assert.Equal(t, started, *s)
	assert.Equal(t, ended, *e)
}

func TestManager_EndBeforeStart(t *testing.T) {
	m := New("s-2", Source{Kind: SourceTrack, ID: "t1"}, time.Time{})
	assert.True(t, m.End(time.Time{}))
	_, started, _ := m.GetTimes()
	assert.Nil(t, started)
	assert.Equal(t, "ended", m.GetPhase().String())
}
