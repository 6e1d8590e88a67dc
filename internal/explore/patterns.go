package explore

import "fmt"

// Pattern is one probe payload for protocol discovery.
type Pattern struct {
	Type        string `json:"type"`
	Data        []byte `json:"-"`
	Description string `json:"description"`
}

// Patterns returns the built-in probe corpus: the HTTP-like command grid
// the firmware family is known to use, AT-style commands common on BLE
// serial bridges, and a handful of raw binary probes.
func Patterns() []Pattern {
	var patterns []Pattern

	verbs := []string{"GET", "POST", "PUT", "DELETE", "PATCH"}
	endpoints := []string{
		"/",
		"/api",
		"/api/1.0",
		"/api/1.0/version",
		"/stats",
		"/status",
		"/sif",
		"/sif/start",
		"/sif/read",
		"/sif/write",
		"/sif/erase",
		"/sif/status",
	}
	for _, verb := range verbs {
		for _, endpoint := range endpoints {
			cmd := verb + " " + endpoint
			patterns = append(patterns, Pattern{
				Type:        "http_command",
				Data:        []byte(cmd),
				Description: cmd,
			})
		}
	}

	atCommands := []string{
		"AT", "AT+", "AT+VERSION", "AT+RESET",
		"VERSION", "STATUS", "READ", "WRITE", "START", "STOP", "INIT",
	}
	for _, cmd := range atCommands {
		patterns = append(patterns, Pattern{
			Type:        "at_command",
			Data:        []byte(cmd),
			Description: cmd,
		})
	}

	binary := [][]byte{
		{0x00}, {0x01}, {0x02}, {0x03}, {0x04}, {0xff}, {0xaa, 0x55},
	}
	for _, data := range binary {
		patterns = append(patterns, Pattern{
			Type:        "binary",
			Data:        data,
			Description: fmt.Sprintf("binary: %x", data),
		})
	}

	return patterns
}
