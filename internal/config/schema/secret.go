package schema

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Secret holds a sensitive value. Every printing or encoding path masks it;
// only Value returns the plain text.
type Secret string

const secretMask = "****"

// String masks the secret for logs
func (s Secret) String() string {
	switch {
	case len(s) == 0:
		return ""
	case len(s) <= 4:
		return secretMask
	default:
		return string(s[:2]) + secretMask + string(s[len(s)-2:])
	}
}

// GoString keeps %#v from printing the value
func (s Secret) GoString() string { return s.String() }

// Value returns the plain secret
func (s Secret) Value() string { return string(s) }

// IsEmpty reports whether the secret is unset
func (s Secret) IsEmpty() bool { return len(s) == 0 }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Secret) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Secret(str)
	return nil
}

func (s Secret) MarshalYAML() (interface{}, error) { return s.String(), nil }

func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	*s = Secret(node.Value)
	return nil
}
