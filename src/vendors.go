package efw

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Config-ROM vendor/model detection (spec section 4.K),
 *		replacing config-rom.c's nested switch statement with an
 *		embedded YAML table, the way src/deviceid.go loads
 *		tocalls.yaml into Go structs instead of hard-coding APRS
 *		"tocall" prefixes. Unlike deviceid.go's runtime search
 *		path list, the set of supported devices here is fixed at
 *		build time, so the table is compiled in via go:embed.
 *
 *------------------------------------------------------------------*/

//go:embed vendors.yaml
var vendorsYAML []byte

// VendorModel is one accepted (vendor, model) pair from the embedded
// table.
type VendorModel struct {
	Vendor     uint32 `yaml:"vendor"`
	VendorName string `yaml:"vendor_name"`
	Model      uint32 `yaml:"model"`
	Name       string `yaml:"name"`
}

var vendorTable []VendorModel

func init() {
	if err := yaml.Unmarshal(vendorsYAML, &vendorTable); err != nil {
		panic(fmt.Sprintf("efw: embedded vendors.yaml is malformed: %v", err))
	}
}

const (
	configROMVendorTag = 0x03
	configROMModelTag  = 0x17
)

// DetectVendorModel reads the vendor and model byte patterns out of a
// config ROM image (spec section 6) and reports whether the pair is one
// this tool recognizes as a Fireworks-family device.
func DetectVendorModel(rom []byte) (vm VendorModel, ok bool) {
	if len(rom) < 36 {
		return VendorModel{}, false
	}
	if rom[24] != configROMVendorTag {
		return VendorModel{}, false
	}
	vendor := uint32(rom[25])<<16 | uint32(rom[26])<<8 | uint32(rom[27])
	if rom[32] != configROMModelTag {
		return VendorModel{}, false
	}
	model := uint32(rom[33])<<16 | uint32(rom[34])<<8 | uint32(rom[35])

	for _, entry := range vendorTable {
		if entry.Vendor == vendor && entry.Model == model {
			return entry, true
		}
	}
	return VendorModel{}, false
}
