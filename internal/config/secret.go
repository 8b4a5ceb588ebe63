package config

const redacted = "[REDACTED]"

// Secret is a credential string that hides itself from every printing
// path: %s, %#v, YAML and JSON marshaling. The raw value only leaves
// through Reveal at the venue boundary.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	if s == "" {
		return `""`
	}
	return `"` + redacted + `"`
}

func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return redacted, nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Reveal returns the raw credential.
func (s Secret) Reveal() string {
	return string(s)
}
