// Package validation checks values that arrive from the host or the device
// before they are used as paths or pacing inputs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// SerialRegex validates a device serial, which is used as a directory name
	SerialRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	// FolderSegmentRegex validates one component of a working folder path
	FolderSegmentRegex = regexp.MustCompile(`^[A-Za-z0-9._ -]+$`)
)

const (
	MaxFolderLength = 255
	MaxSerialLength = 64
	MaxCameraCount  = 64
)

// ValidateFolderName validates a host-supplied working folder. Nested
// folders separated by '/' are allowed; absolute paths, parent references
// and backslashes are not.
func ValidateFolderName(folder string) error {
	if err := ValidateNonEmptyString(folder, "folder"); err != nil {
		return err
	}
	if err := ValidateStringLength(folder, 1, MaxFolderLength, "folder"); err != nil {
		return err
	}
	if strings.HasPrefix(folder, "/") {
		return fmt.Errorf("folder must be relative")
	}
	for _, r := range folder {
		if unicode.IsControl(r) || r == '\\' {
			return fmt.Errorf("folder contains invalid character %q", r)
		}
	}
	for _, seg := range strings.Split(folder, "/") {
		switch {
		case seg == "":
			return fmt.Errorf("folder contains an empty path segment")
		case seg == "." || seg == "..":
			return fmt.Errorf("folder must not contain %q", seg)
		case !FolderSegmentRegex.MatchString(seg):
			return fmt.Errorf("folder segment %q contains invalid characters (only letters, numbers, '.', '_', '-', ' ' allowed)", seg)
		}
	}
	return nil
}

// ValidateSerial validates a device serial number
func ValidateSerial(serial string) error {
	if serial == "" {
		return fmt.Errorf("serial is required")
	}
	if len(serial) > MaxSerialLength {
		return fmt.Errorf("serial is too long (max %d characters)", MaxSerialLength)
	}
	if !SerialRegex.MatchString(serial) {
		return fmt.Errorf("serial contains invalid characters")
	}
	return nil
}

// ValidateCameraCount validates the number of cameras sharing the link
func ValidateCameraCount(n int) error {
	if n < 1 {
		return fmt.Errorf("camera count must be positive")
	}
	if n > MaxCameraCount {
		return fmt.Errorf("camera count is too large (max %d)", MaxCameraCount)
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
