package arduino

import (
	"fmt"
	"runtime"

	"github.com/goccy/go-json"
)

// UnknownBoard is the board reported for a port the CLI cannot identify.
var UnknownBoard = Board{Name: "Unknown", FQBN: "unknown"}

// Board is a board the CLI matched to a port.
type Board struct {
	Name string `json:"name"`
	FQBN string `json:"fqbn"`
}

// DetectedDevice is an attached port and its candidate boards. There is
// always at least one board.
type DetectedDevice struct {
	Port           string
	Label          string
	MatchingBoards []Board
}

// Known reports whether the device resolves to exactly one board.
func (d DetectedDevice) Known() bool {
	return len(d.MatchingBoards) == 1 && d.MatchingBoards[0] != UnknownBoard
}

// Ambiguous reports whether more than one board matched.
func (d DetectedDevice) Ambiguous() bool {
	return len(d.MatchingBoards) > 1
}

// Board returns the selected board.
func (d DetectedDevice) Board() Board {
	if len(d.MatchingBoards) == 0 {
		return UnknownBoard
	}
	return d.MatchingBoards[0]
}

// Choose resolves the device to the supported device called name.
func (d *DetectedDevice) Choose(name string) error {
	dev, ok := LookupDevice(name)
	if !ok {
		return fmt.Errorf("unsupported device: %s", name)
	}
	d.MatchingBoards = []Board{{Name: dev.Name, FQBN: dev.FQBN}}
	return nil
}

// Describe returns a one-line label for the device list.
func (d DetectedDevice) Describe() string {
	switch {
	case d.Ambiguous():
		return "Multiple matches detected on " + d.Port
	case !d.Known():
		return "Unknown or clone device detected on " + d.Port
	default:
		return d.Board().Name + " on " + d.Port
	}
}

// MotorDriverTag returns the DCC-EX hardware tag for the selected board, if
// it is DCC-EX hardware.
func (d DetectedDevice) MotorDriverTag() string {
	return DCCEXDevices[d.Board().Name]
}

type listedPort struct {
	Port struct {
		Address string `json:"address"`
		Label   string `json:"label"`
	} `json:"port"`
	MatchingBoards []Board `json:"matching_boards"`
}

// ParseBoardList converts the decoded output of "board list" into devices.
// Both the bare list and the {"detected_ports": [...]} form of newer CLI
// releases are accepted.
func ParseBoardList(data any) ([]DetectedDevice, error) {
	switch v := data.(type) {
	case nil, string:
		return nil, nil
	case map[string]any:
		ports, ok := v["detected_ports"]
		if !ok {
			return nil, nil
		}
		data = ports
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode board list: %w", err)
	}
	var listed []listedPort
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, fmt.Errorf("decode board list: %w", err)
	}

	devices := make([]DetectedDevice, 0, len(listed))
	for _, p := range listed {
		boards := p.MatchingBoards
		if len(boards) == 0 {
			boards = []Board{UnknownBoard}
		}
		devices = append(devices, DetectedDevice{
			Port:           p.Port.Address,
			Label:          p.Port.Label,
			MatchingBoards: boards,
		})
	}
	return devices, nil
}

// FakeDevice returns a dummy unknown device, used in fake mode when
// nothing is attached.
func FakeDevice() DetectedDevice {
	port := "/dev/ttyUSB10"
	if runtime.GOOS == "windows" {
		port = "COM10"
	}
	return DetectedDevice{Port: port, Label: port, MatchingBoards: []Board{UnknownBoard}}
}

// ParseVersion extracts the version string from decoded "version" output.
func ParseVersion(data any) (string, error) {
	fields, ok := data.(map[string]any)
	if !ok {
		return "", fmt.Errorf("unexpected version output: %v", data)
	}
	v, ok := fields["VersionString"].(string)
	if !ok {
		return "", fmt.Errorf("no version in output: %v", data)
	}
	return v, nil
}

// SupportedVersion reports whether v is the supported CLI release.
func SupportedVersion(v string) bool {
	return v == CLIVersion
}
