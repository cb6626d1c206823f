package docket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		displayName string
		expected    string
		expectedOK  bool
	}{
		{
			name:        "bare five digit number",
			displayName: "25461",
			expected:    "25461",
			expectedOK:  true,
		},
		{
			name:        "number with underscore job name",
			displayName: "25461_Harbour Upgrade",
			expected:    "25461",
			expectedOK:  true,
		},
		{
			name:        "number with letter suffix",
			displayName: "25461ab Harbour Upgrade",
			expected:    "25461AB",
			expectedOK:  true,
		},
		{
			name:        "three letter suffix",
			displayName: "30000XYZ - Fitout",
			expected:    "30000XYZ",
			expectedOK:  true,
		},
		{
			name:        "four letter run is not a suffix",
			displayName: "25461ABCD Fitout",
			expectedOK:  false,
		},
		{
			name:        "six digits do not match",
			displayName: "254611 Fitout",
			expectedOK:  false,
		},
		{
			name:        "four digits do not match",
			displayName: "2546 Fitout",
			expectedOK:  false,
		},
		{
			name:        "number embedded mid-string",
			displayName: "Stage 2 - 25499 Jetty Repairs",
			expected:    "25499",
			expectedOK:  true,
		},
		{
			name:        "no number at all",
			displayName: "General admin",
			expectedOK:  false,
		},
		{
			name:        "empty string",
			displayName: "",
			expectedOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			number, ok := ParseNumber(tt.displayName)
			assert.Equal(t, tt.expectedOK, ok)
			if tt.expectedOK {
				assert.Equal(t, tt.expected, number)
			}
		})
	}
}

func TestSplitDisplayName(t *testing.T) {
	t.Parallel()

	number, jobName, ok := SplitDisplayName("25461_Harbour Upgrade")
	assert.True(t, ok)
	assert.Equal(t, "25461", number)
	assert.Equal(t, "Harbour Upgrade", jobName)

	number, jobName, ok = SplitDisplayName("25461ab Harbour Upgrade")
	assert.True(t, ok)
	assert.Equal(t, "25461AB", number)
	assert.Equal(t, "Harbour Upgrade", jobName)

	_, jobName, ok = SplitDisplayName("  General admin ")
	assert.False(t, ok)
	assert.Equal(t, "General admin", jobName)
}

func TestSplitDisplayNameMidStringNumber(t *testing.T) {
	t.Parallel()

	number, jobName, ok := SplitDisplayName("Stage 2 - 25499 Jetty Repairs")
	assert.True(t, ok)
	assert.Equal(t, "25499", number)
	assert.Equal(t, "Stage 2 Jetty Repairs", jobName)

	number, jobName, ok = SplitDisplayName("Jetty Repairs 25499")
	assert.True(t, ok)
	assert.Equal(t, "25499", number)
	assert.Equal(t, "Jetty Repairs", jobName)
}

func TestIdentityKey(t *testing.T) {
	t.Parallel()

	a := Record{Number: "25461", JobName: "Harbour Upgrade"}
	b := Record{Number: "25461", JobName: "Jetty Repairs"}
	c := Record{Number: "25461", JobName: "Harbour Upgrade"}

	assert.NotEqual(t, a.IdentityKey(), b.IdentityKey())
	assert.Equal(t, a.IdentityKey(), c.IdentityKey())
}
