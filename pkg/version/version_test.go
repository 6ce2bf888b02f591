package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := Parse("2.1.44")
	require.NoError(t, err)
	assert.Equal(t, Firmware{Major: 2, Minor: 1, Patch: 44}, v)
	assert.Equal(t, "2.1.44", v.String())
}

func TestParse_MissingPatchIsZero(t *testing.T) {
	v, err := Parse("3.7")
	require.NoError(t, err)
	assert.Equal(t, Firmware{Major: 3, Minor: 7}, v)
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "2", "2.x", "2..1", "a.b.c", "1.2.3.4"} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestFirmware_Compare(t *testing.T) {
	older, err := Parse("2.1.44")
	require.NoError(t, err)
	newer, err := Parse("2.2.0")
	require.NoError(t, err)

	assert.Equal(t, -1, older.Compare(newer))
	assert.Equal(t, 1, newer.Compare(older))
	assert.Equal(t, 0, older.Compare(older))
}

func TestFirmware_AtLeast(t *testing.T) {
	min, err := Parse("2.1.0")
	require.NoError(t, err)

	v, err := Parse("2.1.44")
	require.NoError(t, err)
	assert.True(t, v.AtLeast(min))

	old, err := Parse("1.9.99")
	require.NoError(t, err)
	assert.False(t, old.AtLeast(min))
}
