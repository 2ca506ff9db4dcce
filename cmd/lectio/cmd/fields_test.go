package cmd

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{
		"country=AR",
		"newsletter=true",
		"readingStreak=12",
		"notifications.daily=false",
		"notifications.hour=7",
		"fullName=Ana María López",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"country":       "AR",
		"newsletter":    true,
		"readingStreak": 12,
		"notifications": map[string]any{"daily": false, "hour": 7},
		"fullName":      "Ana María López",
	}, fields)
}

func TestParseFieldsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing equals", []string{"country"}},
		{"empty key", []string{"=AR"}},
		{"empty path segment", []string{"notifications..daily=true"}},
		{"trailing dot", []string{"notifications.=true"}},
		{"scalar used as map", []string{"country=AR", "country.code=AR"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFields(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printYAML(&buf, map[string]any{"country": "AR", "notifications": map[string]any{"daily": true}}))
	assert.Equal(t, "country: AR\nnotifications:\n  daily: true\n", buf.String())
}

func TestReadPasswordFromPipe(t *testing.T) {
	orig := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	t.Cleanup(func() { stdinIsTerminal = orig })

	in := bufio.NewReader(strings.NewReader("first secret\r\nsecond"))

	first, err := readPassword("Password: ", in)
	require.NoError(t, err)
	assert.Equal(t, "first secret", first)

	second, err := readPassword("Password: ", in)
	require.NoError(t, err)
	assert.Equal(t, "second", second)

	_, err = readPassword("Password: ", in)
	assert.Error(t, err)
}
