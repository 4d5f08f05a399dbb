package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	for _, mode := range Modes() {
		parsed, err := ParseMode(string(mode))
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
		assert.True(t, parsed.Valid())
		assert.NotEmpty(t, parsed.Label())
		assert.NotEmpty(t, parsed.Description())
	}

	_, err := ParseMode("azureonly")
	require.Error(t, err, "mode names are case sensitive, they travel on the wire")

	_, err = ParseMode("")
	require.Error(t, err)
}

func TestUnknownModeFallsBackToRawLabel(t *testing.T) {
	m := AgentMode("Experimental")
	assert.False(t, m.Valid())
	assert.Equal(t, "Experimental", m.Label())
	assert.Empty(t, m.Description())
}
