// Package validation provides validation functions for stack, index, app and
// host identifiers. Index naming follows the rules splunkd enforces when an
// index stanza is created.
package validation

import (
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"unicode"
)

// MaxStackIDLength bounds stack ids so they fit in store keys and file names.
const MaxStackIDLength = 64

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isLower returns true if the byte is a lowercase ASCII letter.
func isLower(b byte) bool {
	return b >= 'a' && b <= 'z'
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// isAlphaNum returns true if the byte is an ASCII letter or digit.
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isNum(b)
}

// validateIdentifier validates identifiers that must start with a letter or
// digit and contain only letters, digits, and the given extra bytes.
func validateIdentifier(value, entityType, extra string, maxLen int) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", entityType)
	}
	if maxLen > 0 && len(value) > maxLen {
		return fmt.Errorf("%s must be at most %d characters", entityType, maxLen)
	}
	if !isAlphaNum(value[0]) {
		return fmt.Errorf("%s must start with a letter or digit", entityType)
	}
	for _, b := range []byte(value) {
		if !isAlphaNum(b) && !strings.ContainsRune(extra, rune(b)) {
			return fmt.Errorf("%s can only contain letters, digits, or %q", entityType, extra)
		}
	}
	return nil
}

// ValidateStackID validates a stack id.
// Stack ids start with a letter or digit and contain letters, digits, '-', '_' or '.'.
func ValidateStackID(id string) error {
	return validateIdentifier(id, "stack_id", "-_.", MaxStackIDLength)
}

// ValidateIndexName validates a Splunk index name.
// Index names are lowercase, start with a letter or digit, and contain only
// lowercase letters, digits, '_' or '-'. The "kvstore" name is reserved.
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("index name must not be empty")
	}
	if len(name) > 80 {
		return fmt.Errorf("index name must be at most 80 characters")
	}
	if !isLower(name[0]) && !isNum(name[0]) {
		return fmt.Errorf("index name must start with a lowercase letter or digit")
	}
	for _, b := range []byte(name) {
		if !isLower(b) && !isNum(b) && b != '_' && b != '-' {
			return fmt.Errorf("index names can only contain lowercase letters, digits, '_' or '-'")
		}
	}
	if name == "kvstore" {
		return fmt.Errorf("index name %q is reserved", name)
	}
	return nil
}

// ValidateAppName validates a Splunk app directory name.
func ValidateAppName(name string) error {
	return validateIdentifier(name, "app name", "-_.", 0)
}

// ValidateHostName validates a host identifier as used in an inventory.
// A host is either an IP address or a DNS-style name of letters, digits, '-', '_' and '.'.
func ValidateHostName(name string) error {
	if name == "" {
		return fmt.Errorf("host name must not be empty")
	}
	if ip := net.ParseIP(name); ip != nil {
		return nil
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("host name must not start or end with '.'")
	}
	return validateIdentifier(name, "host name", "-_.", 253)
}

// ValidateGroupName validates an inventory group name.
func ValidateGroupName(name string) error {
	if name == "" {
		return fmt.Errorf("group name must not be empty")
	}
	if !isAlpha(name[0]) {
		return fmt.Errorf("group name must start with a letter")
	}
	for _, b := range []byte(name) {
		if !isAlphaNum(b) && b != '_' {
			return fmt.Errorf("group names can only contain letters, digits, or underscores")
		}
	}
	return nil
}

// ValidateHostVarName validates an inventory host variable name. Ansible
// variable names are letters, digits and underscores, not starting with a digit.
func ValidateHostVarName(name string) error {
	if name == "" {
		return fmt.Errorf("variable name must not be empty")
	}
	if isNum(name[0]) {
		return fmt.Errorf("variable name must not start with a digit")
	}
	for _, b := range []byte(name) {
		if !isAlphaNum(b) && b != '_' {
			return fmt.Errorf("variable names can only contain letters, digits, or underscores")
		}
	}
	return nil
}

// ValidateHostVarValue rejects control characters, which cannot be carried
// on a single INI host line.
func ValidateHostVarValue(value string) error {
	if i := strings.IndexFunc(value, unicode.IsControl); i >= 0 {
		return fmt.Errorf("variable value must not contain control characters (found %q at offset %d)", value[i], i)
	}
	return nil
}

// ValidatePort validates a TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateAbsolutePath validates a remote filesystem path such as splunk_home.
func ValidateAbsolutePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must be absolute")
	}
	if strings.ContainsAny(path, " \t\n") {
		return fmt.Errorf("path must not contain whitespace")
	}
	return nil
}

// ValidatePosixName validates a unix user or group name.
func ValidatePosixName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !isLower(name[0]) && name[0] != '_' {
		return fmt.Errorf("name must start with a lowercase letter or underscore")
	}
	for _, b := range []byte(name) {
		if !isLower(b) && !isNum(b) && b != '_' && b != '-' {
			return fmt.Errorf("name can only contain lowercase letters, digits, '_' or '-'")
		}
	}
	return nil
}

// DecodeSSHKey decodes a base64 (standard or URL alphabet, padded or not)
// private key blob.
func DecodeSSHKey(keyB64 string) ([]byte, error) {
	trimmed := strings.TrimSpace(keyB64)
	if trimmed == "" {
		return nil, fmt.Errorf("ssh key must not be empty")
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(trimmed); err == nil && len(key) > 0 {
			return key, nil
		}
	}
	return nil, fmt.Errorf("ssh key must be valid base64")
}
