package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  Status
		expectErr bool
	}{
		{name: "active", input: "active", expected: StatusActive},
		{name: "sold", input: "sold", expected: StatusSold},
		{name: "removed", input: "removed", expected: StatusRemoved},
		{name: "unknown value", input: "archived", expectErr: true},
		{name: "empty value", input: "", expectErr: true},
		{name: "wrong case", input: "Active", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := ParseStatus(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, status)
		})
	}
}

func TestStatusScan(t *testing.T) {
	var s Status
	require.NoError(t, s.Scan("sold"))
	assert.Equal(t, StatusSold, s)

	require.NoError(t, s.Scan([]byte("removed")))
	assert.Equal(t, StatusRemoved, s)

	err := s.Scan("for_sale")
	assert.Error(t, err)
	// A failed scan must not overwrite the previous value with garbage.
	assert.Equal(t, StatusRemoved, s)

	assert.Error(t, s.Scan(42))
}

func TestStatusValue(t *testing.T) {
	v, err := StatusActive.Value()
	require.NoError(t, err)
	assert.Equal(t, "active", v)

	_, err = Status("broken").Value()
	assert.Error(t, err)
}
