// Package version carries build metadata stamped with -ldflags.
package version

import (
	"fmt"
	"strconv"
)

const Name = "orchestra"

var (
	Version   = "dev"
	Major     = "0"
	Minor     = "0"
	Patch     = "0"
	Built     = ""
	GitCommit = ""
)

type VersionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Name:      Name,
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// String renders the one-line form printed by --version.
func (v VersionInfo) String() string {
	text := fmt.Sprintf("%s %s", v.Name, v.Version)
	if v.GitCommit != "" {
		text += " (" + v.GitCommit + ")"
	}
	if v.Built != "" {
		text += " built " + v.Built
	}
	return text
}

// UserAgent identifies orchestra clients on the wire.
func UserAgent() string {
	return Name + "/" + Version
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
