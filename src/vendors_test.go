package efw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildConfigROM(vendor, model uint32) []byte {
	rom := make([]byte, 36)
	rom[24] = configROMVendorTag
	rom[25] = byte(vendor >> 16)
	rom[26] = byte(vendor >> 8)
	rom[27] = byte(vendor)
	rom[32] = configROMModelTag
	rom[33] = byte(model >> 16)
	rom[34] = byte(model >> 8)
	rom[35] = byte(model)
	return rom
}

func TestDetectVendorModelKnownDevice(t *testing.T) {
	rom := buildConfigROM(0x001486, 0x000af2)
	vm, ok := DetectVendorModel(rom)
	assert.True(t, ok)
	assert.Equal(t, "AudioFire2", vm.Name)
}

func TestDetectVendorModelUnknownPair(t *testing.T) {
	rom := buildConfigROM(0x001486, 0xFFFFFF)
	_, ok := DetectVendorModel(rom)
	assert.False(t, ok)
}

func TestDetectVendorModelWrongTagBytes(t *testing.T) {
	rom := buildConfigROM(0x001486, 0x000af2)
	rom[24] = 0x00
	_, ok := DetectVendorModel(rom)
	assert.False(t, ok)
}

func TestDetectVendorModelTooShort(t *testing.T) {
	_, ok := DetectVendorModel(make([]byte, 10))
	assert.False(t, ok)
}
