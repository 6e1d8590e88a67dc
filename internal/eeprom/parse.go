package eeprom

import "strings"

// Metadata holds identity fields parsed from the fixed SFF-8472 offsets of
// an A0h page. Parsing is best-effort: a field outside the printable ASCII
// range is reported empty, never fabricated, and a failed parse never
// invalidates the raw capture.
type Metadata struct {
	ModuleType   string `json:"module_type"`
	VendorName   string `json:"vendor_name,omitempty"`
	VendorOUI    string `json:"vendor_oui,omitempty"`
	PartNumber   string `json:"part_number,omitempty"`
	Revision     string `json:"revision,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	DateCode     string `json:"date_code,omitempty"`
	Connector    string `json:"connector,omitempty"`
	WavelengthNM int    `json:"wavelength_nm,omitempty"`
	BitrateMbps  int    `json:"bitrate_mbps,omitempty"`
	CCBaseValid  bool   `json:"cc_base_valid"`
}

// Parse extracts identity metadata from an EEPROM image.
func Parse(img *Image) *Metadata {
	return ParseBytes(img.Bytes())
}

// ParseBytes extracts identity metadata from a raw EEPROM dump. Inputs
// shorter than the base ID block yield an Unknown module with no fields.
func ParseBytes(data []byte) *Metadata {
	meta := &Metadata{ModuleType: "Unknown"}
	if len(data) < 96 {
		return meta
	}

	switch data[0] {
	case 0x03:
		meta.ModuleType = "SFP/SFP+"
	case 0x0c:
		meta.ModuleType = "QSFP"
	case 0x0d:
		meta.ModuleType = "QSFP+"
	case 0x11:
		meta.ModuleType = "QSFP28"
	}

	// SFF-8472 A0h fixed-offset identity fields.
	meta.VendorName = printableField(data[20:36])
	meta.PartNumber = printableField(data[40:56])
	meta.Revision = printableField(data[56:60])
	meta.SerialNumber = printableField(data[68:84])
	meta.DateCode = printableField(data[84:92])
	meta.Connector = connectorType(data[2])

	if data[37] != 0 || data[38] != 0 || data[39] != 0 {
		meta.VendorOUI = formatHex(data[37]) + ":" + formatHex(data[38]) + ":" + formatHex(data[39])
	}

	meta.BitrateMbps = int(data[12]) * 100

	// Bytes 60-61: wavelength in nm for optical modules. Copper modules
	// reuse these bytes for cable attenuation, so bound-check the value.
	wavelength := int(data[60])<<8 | int(data[61])
	if wavelength > 0 && wavelength < 2000 {
		meta.WavelengthNM = wavelength
	}

	meta.CCBaseValid = ccBase(data[0:63]) == data[63]

	return meta
}

// printableField trims a fixed-width ASCII field, returning empty if any
// byte falls outside the printable range.
func printableField(raw []byte) string {
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			return ""
		}
	}
	return strings.TrimSpace(string(raw))
}

// ccBase is the SFF-8472 CC_BASE checksum: low byte of the sum over bytes
// 0-62.
func ccBase(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

func formatHex(b byte) string {
	const hex = "0123456789ABCDEF"
	return string([]byte{hex[b>>4], hex[b&0x0f]})
}

func connectorType(b byte) string {
	switch b {
	case 0x01:
		return "SC"
	case 0x07:
		return "LC"
	case 0x0b:
		return "Optical Pigtail"
	case 0x21:
		return "Copper Pigtail"
	case 0x22:
		return "RJ45"
	case 0x23:
		return "No Separable Connector"
	default:
		return ""
	}
}
