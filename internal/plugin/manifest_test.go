package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/certbench/internal/errors"
)

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(twoUnitManifest))
	require.NoError(t, err)
	assert.Equal(t, "Access control", m.Suite)
	require.Len(t, m.Units, 2)
	assert.Equal(t, []string{"permissions"}, m.Units[0].Tests())
	assert.Empty(t, m.Units[1].Tests())
}

func TestParseManifestRejects(t *testing.T) {
	cases := map[string]string{
		"bad yaml":  "units: [",
		"no name":   "units:\n  - exec: x\n",
		"separator": "units:\n  - name: a/b\n",
		"duplicate": "units:\n  - name: A\n  - name: A\n",
	}
	for name, body := range cases {
		_, err := ParseManifest([]byte(body))
		require.Error(t, err, name)
		assert.Equal(t, errors.KindPluginLoad, errors.GetKind(err), name)
	}
}
