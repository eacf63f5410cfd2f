package ceremony

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDurations(t *testing.T) {
	d := DefaultDurations()
	require.NoError(t, d.Validate())
	assert.Equal(t, 26*time.Minute, d.Total())

	for _, p := range Sequence {
		assert.Positive(t, d[p], "phase %s", p)
	}
	assert.NotContains(t, d, PhaseLobby)
	assert.NotContains(t, d, PhaseComplete)
}

func TestLoadDurationsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("arrival: 90s\nencounter: 4m\n"), 0o644))

	d, err := LoadDurations(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d[PhaseArrival])
	assert.Equal(t, 4*time.Minute, d[PhaseEncounter])
	// Untouched phases keep their defaults.
	assert.Equal(t, 3*time.Minute, d[PhaseSensing])
}

func TestLoadDurationsRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"negative":      "arrival: -1m\n",
		"unknown phase": "warmup: 1m\n",
		"bad duration":  "arrival: soon\n",
		"lobby is not timed": "lobby: 1m\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := LoadDurations(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadDurationsMissingFile(t *testing.T) {
	_, err := LoadDurations(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
