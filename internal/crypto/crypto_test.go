package crypto

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"drivesync/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRoundTrip(t *testing.T) {
	key := DeriveKey("secret")
	require.Len(t, key, 32)

	for _, plain := range []string{"", "x", strings.Repeat("0123456789abcdef", 1000) + "tail"} {
		enc, err := NewEncryptReader(strings.NewReader(plain), key)
		require.NoError(t, err)
		sealed, err := io.ReadAll(enc)
		require.NoError(t, err)
		assert.Len(t, sealed, len(plain)+HeaderSize)
		assert.Equal(t, int64(len(plain)), PlainSize(int64(len(sealed))))

		dec, err := NewDecryptReader(bytes.NewReader(sealed), key)
		require.NoError(t, err)
		got, err := io.ReadAll(dec)
		require.NoError(t, err)
		assert.Equal(t, plain, string(got))
	}
}

func TestStreamRandomIV(t *testing.T) {
	key := DeriveKey("secret")
	read := func() []byte {
		r, err := NewEncryptReader(strings.NewReader("same"), key)
		require.NoError(t, err)
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		return b
	}
	assert.NotEqual(t, read(), read())
}

func TestDecryptReader_TooShort(t *testing.T) {
	_, err := NewDecryptReader(strings.NewReader("short"), DeriveKey("k"))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestInvalidKey(t *testing.T) {
	_, err := NewEncryptReader(strings.NewReader("x"), []byte("short"))
	assert.Error(t, err)
}

func TestNameRoundTrip(t *testing.T) {
	key := DeriveKey("secret")

	enc1, err := EncryptName("report.pdf", key)
	require.NoError(t, err)
	enc2, err := EncryptName("report.pdf", key)
	require.NoError(t, err)
	assert.Equal(t, enc1, enc2, "name encryption must be deterministic")
	assert.NotContains(t, enc1, "/")

	other, err := EncryptName("report.pdf", DeriveKey("other"))
	require.NoError(t, err)
	assert.NotEqual(t, enc1, other)

	plain, err := DecryptName(enc1, key)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", plain)

	_, err = DecryptName(enc1, DeriveKey("other"))
	assert.Error(t, err)

	_, err = DecryptName("AA", key)
	assert.ErrorIs(t, err, ErrNameTooShort)
}

func TestStore_EncryptsOnTheWire(t *testing.T) {
	ctx := context.Background()
	inner, err := database.Open(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	defer inner.Close()

	key := DeriveKey("pw")
	s := NewStore(inner, key, true)
	assert.Equal(t, "crypt+"+inner.Name(), s.Name())

	dirID, err := s.CreateFolder(ctx, "notes", database.RootID)
	require.NoError(t, err)
	id, err := s.UploadNew(ctx, "todo.txt", dirID, strings.NewReader("buy milk"), "2024-05-01T10:00:00Z")
	require.NoError(t, err)

	// raw view: names and content are ciphertext
	raw, err := inner.ListChildren(ctx, dirID)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.NotEqual(t, "todo.txt", raw[0].Name)
	assert.Equal(t, int64(len("buy milk")+HeaderSize), raw[0].Size)
	assert.Equal(t, "2024-05-01T10:00:00Z", raw[0].ModifiedTime)

	rawStream, err := inner.OpenStream(ctx, id)
	require.NoError(t, err)
	rawData, err := io.ReadAll(rawStream)
	require.NoError(t, err)
	assert.NotContains(t, string(rawData), "buy milk")

	// decorated view: plaintext
	items, err := s.ListChildren(ctx, database.RootID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "notes", items[0].Name)

	items, err = s.ListChildren(ctx, dirID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "todo.txt", items[0].Name)
	assert.Equal(t, int64(len("buy milk")), items[0].Size)

	_, err = s.Update(ctx, id, strings.NewReader("buy bread"), "2024-05-02T10:00:00Z")
	require.NoError(t, err)

	rc, err := s.OpenStream(ctx, id)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "buy bread", string(data))

	require.NoError(t, s.Delete(ctx, dirID))
	items, err = s.ListChildren(ctx, database.RootID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStore_KeepsForeignNames(t *testing.T) {
	ctx := context.Background()
	inner, err := database.Open(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	defer inner.Close()

	_, err = inner.CreateFolder(ctx, "plain folder", database.RootID)
	require.NoError(t, err)

	items, err := NewStore(inner, DeriveKey("pw"), true).ListChildren(ctx, database.RootID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "plain folder", items[0].Name)
}
