package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetSet(t *testing.T) {
	s := New()
	defer s.Stop()

	key := Key(NSDeviceList, "all")
	s.Set(key, []string{"10.1.1.1"}, TTLDeviceList)

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []string{"10.1.1.1"}, got)

	_, ok = s.Get(Key(NSDeviceList, "other"))
	assert.False(t, ok)
}

func TestStoreExpiry(t *testing.T) {
	s := New()
	defer s.Stop()

	key := Key(NSRules, "enabled")
	s.Set(key, "rules", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	_, ok := s.Get(key)
	assert.False(t, ok)
}

func TestInvalidateNamespaceLeavesOthers(t *testing.T) {
	s := New()
	defer s.Stop()

	s.Set(Key(NSDeviceList, "all"), 1, TTLDeviceList)
	s.Set(Key(NSDeviceList, "region:east"), 2, TTLDeviceList)
	s.Set(Key(NSProfile, "active"), 3, TTLProfile)

	s.InvalidateNamespace(NSDeviceList)

	_, ok := s.Get(Key(NSDeviceList, "all"))
	assert.False(t, ok)
	_, ok = s.Get(Key(NSDeviceList, "region:east"))
	assert.False(t, ok)

	_, ok = s.Get(Key(NSProfile, "active"))
	assert.True(t, ok)
}

func TestInvalidateDeviceDropsListNamespaces(t *testing.T) {
	s := New()
	defer s.Stop()

	s.Set(Key(NSDeviceList, "all"), 1, TTLDeviceList)
	s.Set(Key(NSAlertList, "active"), 2, TTLAlertList)
	s.Set(Key(NSHistory, "dev:1"), 3, TTLHistory)

	s.InvalidateDevice()

	_, ok := s.Get(Key(NSDeviceList, "all"))
	assert.False(t, ok)
	_, ok = s.Get(Key(NSAlertList, "active"))
	assert.False(t, ok)

	_, ok = s.Get(Key(NSHistory, "dev:1"))
	assert.True(t, ok)
}
