package apm

import (
	"sort"
	"testing"

	"github.com/longbridgeapp/assert"
)

func TestTrackerMap(t *testing.T) {
	m := newTrackerMap()

	a := &Tracker{name: "a"}
	b := &Tracker{name: "b"}

	assert.True(t, m.setIfAbsent("a", a))
	assert.True(t, m.setIfAbsent("b", b))
	assert.False(t, m.setIfAbsent("a", &Tracker{}))

	got, ok := m.get("a")
	assert.True(t, ok)
	assert.Equal(t, a, got)

	_, ok = m.get("missing")
	assert.False(t, ok)

	names := m.names()
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b"}, names)

	removed, ok := m.remove("a")
	assert.True(t, ok)
	assert.Equal(t, a, removed)

	_, ok = m.remove("a")
	assert.False(t, ok)

	assert.Equal(t, []string{"b"}, m.names())
}
