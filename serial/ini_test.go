package serial_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tunnelca/serial"
)

const registryPath = "/ca/acme/openvpn/serials.ini"

func TestINIRegistry_FreshThenIncrement(t *testing.T) {
	ctx := t.Context()
	fs := afero.NewMemMapFs()
	reg := serial.NewINIRegistry(fs, registryPath)

	_, ok, err := reg.Last()
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := reg.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	data, err := afero.ReadFile(fs, registryPath)
	require.NoError(t, err)
	assert.Equal(t, "[ca]\nlast_used_serial_number=2\n", string(data))

	// A new registry on the same file picks up the persisted value.
	n, err = serial.NewINIRegistry(fs, registryPath).Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	last, ok, err := reg.Last()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), last)

	matches, err := afero.Glob(fs, "/ca/acme/openvpn/.serials-*")
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary files are cleaned up")
}

func TestINIRegistry_ExistingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, registryPath, []byte("[ca]\nlast_used_serial_number = 41\n"), 0o644))

	n, err := serial.NewINIRegistry(fs, registryPath).Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestINIRegistry_Malformed(t *testing.T) {
	tests := map[string]string{
		"non-integer":     "[ca]\nlast_used_serial_number=abc\n",
		"missing key":     "[ca]\nother=1\n",
		"missing section": "last_used_serial_number=5\n",
		"zero":            "[ca]\nlast_used_serial_number=0\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, registryPath, []byte(content), 0o644))

			_, err := serial.NewINIRegistry(fs, registryPath).Next(t.Context())
			assert.ErrorIs(t, err, serial.ErrSerialStore)

			// The bad file is left untouched.
			data, err := afero.ReadFile(fs, registryPath)
			require.NoError(t, err)
			assert.Equal(t, content, string(data))
		})
	}
}

func TestINIRegistry_ReadOnlyFs(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	_, err := serial.NewINIRegistry(fs, registryPath).Next(t.Context())
	assert.ErrorIs(t, err, serial.ErrSerialStore)
}

func TestINIRegistry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	fs := afero.NewMemMapFs()
	_, err := serial.NewINIRegistry(fs, registryPath).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	exists, err := afero.Exists(fs, registryPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestINIRegistry_SerializesCallers(t *testing.T) {
	reg := serial.NewINIRegistry(afero.NewMemMapFs(), registryPath)

	const callers = 20
	results := make(chan int64, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := reg.Next(t.Context())
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for n := range results {
		assert.False(t, seen[n], "serial %d handed out twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, callers)
	for n := int64(2); n < 2+callers; n++ {
		assert.True(t, seen[n], "serial %d missing", n)
	}
}

func TestINIRegistry_Exhausted(t *testing.T) {
	fs := afero.NewMemMapFs()
	full := "[ca]\nlast_used_serial_number=9223372036854775807\n"
	require.NoError(t, afero.WriteFile(fs, registryPath, []byte(full), 0o644))
	reg := serial.NewINIRegistry(fs, registryPath)

	_, err := reg.Next(t.Context())
	require.ErrorIs(t, err, serial.ErrSerialStore)

	data, err := afero.ReadFile(fs, registryPath)
	require.NoError(t, err)
	assert.Equal(t, full, string(data))

	last, ok, err := reg.Last()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), last)
}
