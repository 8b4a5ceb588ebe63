package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecretRedactsInAllPrintPaths(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))

	jsonData, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(jsonData))

	yamlData, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, "'[REDACTED]'\n", string(yamlData))
}

func TestSecretEmptyStaysEmpty(t *testing.T) {
	var s Secret
	assert.Equal(t, "", s.String())
	assert.Equal(t, `""`, s.GoString())

	val, err := s.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestSecretRevealReturnsRawValue(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "hunter2", s.Reveal())
}
