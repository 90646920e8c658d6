package central

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racketlab/sensorfleet/internal/bledb"
)

func TestProfileFindNormalizesLookups(t *testing.T) {
	p := NewProfile()
	p.AddCharacteristic("0000180f-0000-1000-8000-00805f9b34fb", "00002a19-0000-1000-8000-00805f9b34fb", true, true)

	// Short-form lookup hits the 128-bit discovered entry
	ch := p.Find("180f", "2a19")
	require.NotNil(t, ch)
	assert.Equal(t, "180f", ch.ServiceUUID)
	assert.Equal(t, "2a19", ch.UUID)
	assert.Equal(t, "Battery Level", ch.KnownName)
	assert.True(t, ch.CanRead)
	assert.True(t, ch.CanNotify)

	// And the other way around
	assert.True(t, p.Has("0000180F-0000-1000-8000-00805F9B34FB", "0x2a19"))
	assert.False(t, p.Has("180d", "2a37"))
}

func TestProfileDiscoveryOrderPreserved(t *testing.T) {
	p := NewProfile()
	p.AddCharacteristic(bledb.ServiceMotion, bledb.CharMotionData, false, true)
	p.AddCharacteristic(bledb.ServiceMotion, bledb.CharStepCount, true, true)
	p.AddCharacteristic(bledb.ServiceBattery, bledb.CharBatteryLevel, true, false)

	svcs := p.Services()
	require.Len(t, svcs, 2)
	assert.Equal(t, bledb.ServiceMotion, svcs[0].UUID)
	assert.Equal(t, bledb.ServiceBattery, svcs[1].UUID)

	chars := svcs[0].Characteristics()
	require.Len(t, chars, 2)
	assert.Equal(t, bledb.CharMotionData, chars[0].UUID)
	assert.Equal(t, bledb.CharStepCount, chars[1].UUID)
}

func TestProfileRepeatedAddMergesProperties(t *testing.T) {
	p := NewProfile()
	p.AddCharacteristic("180f", "2a19", true, false)
	p.AddCharacteristic("180f", "2a19", false, true)

	ch := p.Find("180f", "2a19")
	require.NotNil(t, ch)
	assert.True(t, ch.CanRead)
	assert.True(t, ch.CanNotify)

	require.Len(t, p.Services(), 1)
	require.Len(t, p.Services()[0].Characteristics(), 1)
}

func TestTransportErrorClassification(t *testing.T) {
	base := errors.New("connection canceled")

	tr := Transient("read", base)
	assert.True(t, IsTransient(tr))
	assert.False(t, IsUnsupported(tr))
	assert.Equal(t, KindTransient, KindOf(tr))
	assert.ErrorIs(t, tr, base)

	un := Unsupported("subscribe", nil)
	assert.True(t, IsUnsupported(un))
	assert.Equal(t, KindCapabilityAbsent, KindOf(un))

	fa := Fatal("connect", base)
	assert.Equal(t, KindFatal, KindOf(fa))

	// Plain errors default to fatal
	assert.Equal(t, KindFatal, KindOf(base))
	assert.False(t, IsTransient(base))

	// errors.Is matches by kind across instances
	assert.ErrorIs(t, tr, &TransportError{Kind: KindTransient})
}
