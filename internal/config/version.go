package config

import (
	"fmt"
	"strconv"
	"strings"
)

// SchemaVersion is a config schema version, "major.minor".
type SchemaVersion struct {
	Major int
	Minor int
}

// SupportedVersions lists the schema versions this build reads.
var SupportedVersions = []SchemaVersion{
	{Major: 1, Minor: 0},
}

// ParseVersion parses "X.Y". An empty string is treated as 1.0.
func ParseVersion(s string) (SchemaVersion, error) {
	if s == "" {
		return SchemaVersion{Major: 1}, nil
	}
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return SchemaVersion{}, fmt.Errorf("invalid version format: %s (expected X.Y)", s)
	}
	ma, err := strconv.Atoi(major)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid major version: %s", major)
	}
	mi, err := strconv.Atoi(minor)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid minor version: %s", minor)
	}
	return SchemaVersion{Major: ma, Minor: mi}, nil
}

func (v SchemaVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsSupportedVersion reports whether v can be read. Minor versions are
// backward compatible within a major.
func IsSupportedVersion(v SchemaVersion) bool {
	for _, s := range SupportedVersions {
		if v.Major == s.Major && v.Minor <= s.Minor {
			return true
		}
	}
	return false
}
