package status

import "strings"

// CodeMap translates device-specific event codes into canonical status
// codes. It is plain configuration data, loaded per protocol; lookups are
// case-insensitive on the device code.
type CodeMap map[string]int

// NewCodeMap builds a CodeMap with normalized (lower-case) keys
func NewCodeMap(m map[string]int) CodeMap {
	cm := make(CodeMap, len(m))
	for k, v := range m {
		cm[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return cm
}

// Translate returns the canonical code for a device event code, or def when
// the code has no mapping.
func (cm CodeMap) Translate(deviceCode string, def int) int {
	if cm == nil {
		return def
	}
	if code, ok := cm[strings.ToLower(strings.TrimSpace(deviceCode))]; ok {
		return code
	}
	return def
}
