package meta

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToEpoch(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int64
	}{
		{name: "whole seconds", in: "1970-01-01T00:16:40Z", want: 1000},
		{name: "drive millis", in: "2024-05-01T10:00:00.123Z", want: 1714557600},
		{name: "fraction does not round up", in: "2024-05-01T10:00:00.999Z", want: 1714557600},
		{name: "offset", in: "2024-05-01T12:00:00+02:00", want: 1714557600},
		{name: "epoch zero", in: "1970-01-01T00:00:00Z", want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToEpoch(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToEpoch_Invalid(t *testing.T) {
	for _, in := range []string{"", "yesterday", "2024-05-01 10:00:00", "1714557600"} {
		_, err := ToEpoch(in)
		assert.Error(t, err, in)
	}
}

func TestToRemoteFormat(t *testing.T) {
	assert.Equal(t, "1970-01-01T00:16:40Z", ToRemoteFormat(1000))
	assert.Equal(t, "2024-05-01T10:00:00Z", ToRemoteFormat(1714557600))
}

func TestRoundTrip(t *testing.T) {
	epochs := []int64{0, 1, 59, 1000, 86399, 951782400, 1714557600, 4102444800, 253402300799}
	for _, e := range epochs {
		got, err := ToEpoch(ToRemoteFormat(e))
		require.NoError(t, err)
		assert.Equal(t, e, got, "epoch %d", e)
	}
}

func TestLocalModifiedAtEpoch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	mtime := time.Unix(1714557600, 750_000_000)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	got, err := LocalModifiedAtEpoch(osStater{}, path)
	require.NoError(t, err)
	assert.Equal(t, int64(1714557600), got)

	_, err = LocalModifiedAtEpoch(osStater{}, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type osStater struct{}

func (osStater) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
