package templates

import (
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/aymerick/raymond"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, template string) string {
	t.Helper()
	RegisterHelpers()
	out, err := raymond.Render(template, nil)
	require.NoError(t, err)
	return out
}

func TestRandomValueDefaults(t *testing.T) {
	out := render(t, `{{randomValue}}`)
	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z0-9]{10}$`), out)
}

func TestRandomValueTypes(t *testing.T) {
	numeric := render(t, `{{randomValue type="NUMERIC" length=6}}`)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), numeric)

	alpha := render(t, `{{randomValue type="ALPHABETIC" length=8 uppercase=true}}`)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z]{8}$`), alpha)

	id := render(t, `{{randomValue type="UUID"}}`)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestRandomInt(t *testing.T) {
	for i := 0; i < 20; i++ {
		out := render(t, `{{randomInt lower=5 upper=10}}`)
		n, err := strconv.Atoi(out)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 5)
		assert.LessOrEqual(t, n, 10)
	}
}

func TestRandomIntSwappedBounds(t *testing.T) {
	out := render(t, `{{randomInt lower=10 upper=10}}`)
	assert.Equal(t, "10", out)
}

func TestNowDefaultFormat(t *testing.T) {
	out := render(t, `{{now}}`)
	parsed, err := time.Parse(time.RFC3339, out)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestNowUnixFormat(t *testing.T) {
	out := render(t, `{{now format="unix"}}`)
	n, err := strconv.ParseInt(out, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), n, 60)
}

func TestNowWithOffset(t *testing.T) {
	out := render(t, `{{now format="unix" offset="-1 hour"}}`)
	n, err := strconv.ParseInt(out, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(-time.Hour).Unix(), n, 60)
}

func TestFaker(t *testing.T) {
	assert.NotEmpty(t, render(t, `{{faker "Name.full_name"}}`))
	assert.Contains(t, render(t, `{{faker "Internet.email"}}`), "@")
	assert.Empty(t, render(t, `{{faker "Unknown.key"}}`))
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"3 days", 72 * time.Hour, false},
		{"-45 minutes", -45 * time.Minute, false},
		{"1 week", 7 * 24 * time.Hour, false},
		{"10 seconds", 10 * time.Second, false},
		{"nonsense", 0, true},
		{"5 fortnights", 0, true},
	}
	for _, tt := range tests {
		d, err := parseOffset(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, d, tt.input)
	}
}
