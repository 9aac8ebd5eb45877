// Package arduino models the Arduino CLI: where it lives, how it is
// installed, and the commands the installer runs through it.
package arduino

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// CLIVersion is the Arduino CLI release the installer supports. Output of
// later releases differs in ways that have not been tested.
const CLIVersion = "0.35.3"

// ErrUnsupportedPlatform is returned when no Arduino CLI build exists for
// the running operating system and architecture.
var ErrUnsupportedPlatform = errors.New("no Arduino CLI available for this operating system")

// Platform is a board package the CLI installs.
type Platform struct {
	Name    string
	ID      string
	Version string
	URL     string
}

// Package returns the core install argument, e.g. "arduino:avr@1.8.6".
func (p Platform) Package() string {
	return p.ID + "@" + p.Version
}

// Library is an Arduino library pinned to a version.
type Library struct {
	Name    string
	Version string
}

// Package returns the lib install argument, e.g. "Ethernet@2.0.2".
func (l Library) Package() string {
	return l.Name + "@" + l.Version
}

// Device is a board the installer can target.
type Device struct {
	Name string
	FQBN string
}

// BasePlatforms are always installed.
var BasePlatforms = []Platform{
	{Name: "Arduino AVR", ID: "arduino:avr", Version: "1.8.6"},
}

// ExtraPlatforms need an additional board manager URL.
// ESP32 stays on 2.0.x and STM32 on 2.7.x until newer output is handled.
var ExtraPlatforms = []Platform{
	{
		Name:    "Espressif ESP32",
		ID:      "esp32:esp32",
		Version: "2.0.17",
		URL:     "https://raw.githubusercontent.com/espressif/arduino-esp32/gh-pages/package_esp32_index.json",
	},
	{
		Name:    "STMicroelectronics Nucleo/STM32",
		ID:      "STMicroelectronics:stm32",
		Version: "2.7.1",
		URL:     "https://github.com/stm32duino/BoardManagerFiles/raw/main/package_stmicroelectronics_index.json",
	},
}

// Libraries are required by the products.
var Libraries = []Library{
	{Name: "Ethernet", Version: "2.0.2"},
}

// SupportedDevices can be chosen when the CLI cannot identify a device.
var SupportedDevices = []Device{
	{Name: "Arduino Mega or Mega 2560", FQBN: "arduino:avr:mega"},
	{Name: "Arduino Uno", FQBN: "arduino:avr:uno"},
	{Name: "Arduino Nano", FQBN: "arduino:avr:nano"},
	{Name: "DCC-EX EX-CSB1", FQBN: "esp32:esp32:esp32"},
	{Name: "ESP32 Dev Kit", FQBN: "esp32:esp32:esp32"},
	{Name: "STMicroelectronics Nucleo F411RE", FQBN: "STMicroelectronics:stm32:Nucleo_64:pnum=NUCLEO_F411RE"},
	{Name: "STMicroelectronics Nucleo F446RE", FQBN: "STMicroelectronics:stm32:Nucleo_64:pnum=NUCLEO_F446RE"},
}

// DCCEXDevices maps DCC-EX hardware names to the motor driver tag they imply.
// Names must start with "DCC-EX".
var DCCEXDevices = map[string]string{
	"DCC-EX EX-CSB1": "EXCSB1",
}

// LookupDevice finds a supported device by name.
func LookupDevice(name string) (Device, bool) {
	for _, d := range SupportedDevices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// AllPlatforms returns the base platforms followed by the extra ones.
func AllPlatforms() []Platform {
	all := make([]Platform, 0, len(BasePlatforms)+len(ExtraPlatforms))
	all = append(all, BasePlatforms...)
	return append(all, ExtraPlatforms...)
}

// AdditionalURLs joins the board manager URLs of the extra platforms.
func AdditionalURLs() string {
	urls := make([]string, 0, len(ExtraPlatforms))
	for _, p := range ExtraPlatforms {
		if p.URL != "" {
			urls = append(urls, p.URL)
		}
	}
	return strings.Join(urls, ",")
}

// ReleaseURL is the download prefix for the supported CLI release.
const ReleaseURL = "https://github.com/arduino/arduino-cli/releases/download/v" + CLIVersion + "/"

// ArchiveName returns the release archive for goos/goarch.
func ArchiveName(goos, goarch string) (string, error) {
	suffixes := map[string]string{
		"linux/amd64":   "Linux_64bit.tar.gz",
		"linux/386":     "Linux_32bit.tar.gz",
		"linux/arm64":   "Linux_ARM64.tar.gz",
		"linux/arm":     "Linux_ARMv7.tar.gz",
		"darwin/amd64":  "macOS_64bit.tar.gz",
		"darwin/arm64":  "macOS_ARM64.tar.gz",
		"windows/amd64": "Windows_64bit.zip",
		"windows/386":   "Windows_32bit.zip",
	}
	suffix, ok := suffixes[goos+"/"+goarch]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return "arduino-cli_" + CLIVersion + "_" + suffix, nil
}

func executableName() string {
	if runtime.GOOS == "windows" {
		return "arduino-cli.exe"
	}
	return "arduino-cli"
}

// CLIFilePath returns where the installer keeps the Arduino CLI, e.g.
// ~/ex-installer/arduino-cli/arduino-cli.
func CLIFilePath(installDir string) string {
	return filepath.Join(installDir, "arduino-cli", executableName())
}

// IsInstalled reports whether path is an executable regular file.
func IsInstalled(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// DeleteCLI removes the directory holding the CLI at cliPath. It is used
// to replace an unsupported version.
func DeleteCLI(cliPath string) error {
	dir := filepath.Dir(cliPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete %s: %w", dir, err)
	}
	return nil
}
