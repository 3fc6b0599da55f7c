package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputStatusCode(t *testing.T) {
	assert.Equal(t, InputOn00, InputStatusCode(0, true))
	assert.Equal(t, InputOff00, InputStatusCode(0, false))
	assert.Equal(t, InputOn00+7, InputStatusCode(7, true))
	assert.Equal(t, InputOff00+15, InputStatusCode(15, false))

	assert.Equal(t, None, InputStatusCode(-1, true))
	assert.Equal(t, None, InputStatusCode(16, false))
}

func TestIsDigitalInput(t *testing.T) {
	assert.True(t, IsDigitalInput(InputOn00))
	assert.True(t, IsDigitalInput(InputOff00+15))
	assert.False(t, IsDigitalInput(Location))
	assert.False(t, IsDigitalInput(InputOn00+16))
}

func TestCodeMapTranslate(t *testing.T) {
	cm := NewCodeMap(map[string]int{
		"Tracker":     Location,
		"HELP ME":     PanicOn,
		"low battery": BatteryLow,
		"lt":          Ignore,
	})

	assert.Equal(t, Location, cm.Translate("tracker", None))
	assert.Equal(t, PanicOn, cm.Translate("help me", Location))
	assert.Equal(t, BatteryLow, cm.Translate("  Low Battery  ", Location))
	assert.Equal(t, Ignore, cm.Translate("lt", Location))
	assert.Equal(t, Location, cm.Translate("unmapped", Location))

	var empty CodeMap
	assert.Equal(t, Location, empty.Translate("tracker", Location))
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "Location", Description(Location))
	assert.Equal(t, "InputOn", Description(InputOn00+3))
	assert.Equal(t, "InputOff", Description(InputOff00+3))
	assert.Equal(t, "Unknown", Description(0x1234))
}
