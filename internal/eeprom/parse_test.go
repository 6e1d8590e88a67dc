package eeprom

import "testing"

// buildSFP returns a minimal but checksum-valid SFP A0h identity block.
func buildSFP() []byte {
	data := make([]byte, BaseSize)
	data[0] = 0x03 // SFP/SFP+
	data[2] = 0x07 // LC
	data[12] = 103 // 10.3 Gbps

	copy(data[20:36], []byte("ACME OPTICS     "))
	data[37], data[38], data[39] = 0x00, 0x1b, 0x21
	copy(data[40:56], []byte("AX-10G-LR       "))
	copy(data[56:60], []byte("A1  "))
	data[60], data[61] = 0x05, 0x1e // 1310 nm
	copy(data[68:84], []byte("S240100042      "))
	copy(data[84:92], []byte("240115  "))

	var sum byte
	for _, b := range data[0:63] {
		sum += b
	}
	data[63] = sum
	return data
}

func TestParseBytes(t *testing.T) {
	meta := ParseBytes(buildSFP())

	if meta.ModuleType != "SFP/SFP+" {
		t.Errorf("module type %q", meta.ModuleType)
	}
	if meta.VendorName != "ACME OPTICS" {
		t.Errorf("vendor %q", meta.VendorName)
	}
	if meta.VendorOUI != "00:1B:21" {
		t.Errorf("oui %q", meta.VendorOUI)
	}
	if meta.PartNumber != "AX-10G-LR" {
		t.Errorf("part number %q", meta.PartNumber)
	}
	if meta.SerialNumber != "S240100042" {
		t.Errorf("serial %q", meta.SerialNumber)
	}
	if meta.Connector != "LC" {
		t.Errorf("connector %q", meta.Connector)
	}
	if meta.WavelengthNM != 1310 {
		t.Errorf("wavelength %d", meta.WavelengthNM)
	}
	if meta.BitrateMbps != 10300 {
		t.Errorf("bitrate %d", meta.BitrateMbps)
	}
	if !meta.CCBaseValid {
		t.Error("cc_base reported invalid for a correct checksum")
	}
}

func TestParseBytesBadChecksum(t *testing.T) {
	data := buildSFP()
	data[63] ^= 0xff
	if ParseBytes(data).CCBaseValid {
		t.Error("cc_base reported valid for a corrupted checksum")
	}
}

func TestParseBytesNonPrintableFieldOmitted(t *testing.T) {
	data := buildSFP()
	data[25] = 0x00 // corrupt a vendor name byte
	meta := ParseBytes(data)
	if meta.VendorName != "" {
		t.Errorf("vendor %q parsed from non-printable bytes, want empty", meta.VendorName)
	}
	// Other fields survive independently.
	if meta.PartNumber != "AX-10G-LR" {
		t.Errorf("part number %q", meta.PartNumber)
	}
}

func TestParseBytesErasedModule(t *testing.T) {
	data := make([]byte, BaseSize)
	for i := range data {
		data[i] = 0xff
	}
	meta := ParseBytes(data)
	if meta.ModuleType != "Unknown" {
		t.Errorf("module type %q for erased image", meta.ModuleType)
	}
	if meta.VendorName != "" || meta.SerialNumber != "" {
		t.Errorf("fields fabricated from 0xff fill: %+v", meta)
	}
}

func TestParseBytesShortInput(t *testing.T) {
	meta := ParseBytes([]byte{0x03, 0x00})
	if meta.ModuleType != "Unknown" {
		t.Errorf("short input parsed as %q", meta.ModuleType)
	}
}
