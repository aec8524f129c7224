package security

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfcore/ir/raw"
)

var testFileID = []byte("0123456789abcdef")

func reopen(t *testing.T, dict *raw.DictObj) Handler {
	t.Helper()
	h, err := (&HandlerBuilder{}).WithEncryptDict(dict).WithFileID(testFileID).Build()
	require.NoError(t, err)
	return h
}

func TestStandardEncryptionRoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{RC4_40, RC4_128, AES_128, AES_256} {
		t.Run(algo.String(), func(t *testing.T) {
			cfg := EncryptionConfig{UserPassword: "user", OwnerPassword: "owner", Algorithm: algo, EncryptMetadata: true}
			w, dict, err := NewStandardEncryption(cfg, testFileID)
			require.NoError(t, err)

			plain := []byte("secret stream data")
			enc, err := w.Encrypt(7, 0, plain, DataClassStream)
			require.NoError(t, err)
			assert.NotEqual(t, plain, enc)
			str, err := w.Encrypt(7, 0, []byte("title"), DataClassString)
			require.NoError(t, err)

			r := reopen(t, dict)
			require.NoError(t, r.Authenticate("user"))
			assert.False(t, r.OwnerAuthenticated())
			dec, err := r.Decrypt(7, 0, enc, DataClassStream)
			require.NoError(t, err)
			assert.Equal(t, plain, dec)
			dec, err = r.Decrypt(7, 0, str, DataClassString)
			require.NoError(t, err)
			assert.Equal(t, "title", string(dec))

			// the owner password yields the same file key
			o := reopen(t, dict)
			require.NoError(t, o.Authenticate("owner"))
			assert.True(t, o.OwnerAuthenticated())
			dec, err = o.Decrypt(7, 0, enc, DataClassStream)
			require.NoError(t, err)
			assert.Equal(t, plain, dec)
		})
	}
}

func TestWrongPasswordLeavesKeyUnchanged(t *testing.T) {
	for _, algo := range []Algorithm{RC4_128, AES_256} {
		t.Run(algo.String(), func(t *testing.T) {
			w, dict, err := NewStandardEncryption(EncryptionConfig{UserPassword: "u", OwnerPassword: "o", Algorithm: algo}, testFileID)
			require.NoError(t, err)
			enc, err := w.Encrypt(3, 0, []byte("payload"), DataClassString)
			require.NoError(t, err)

			h := reopen(t, dict)
			err = h.Authenticate("nope")
			assert.True(t, errors.Is(err, ErrWrongPassword))

			require.NoError(t, h.Authenticate("u"))
			assert.False(t, h.VerifyUserPassword("x"))
			assert.False(t, h.VerifyOwnerPassword("u"))
			dec, err := h.Decrypt(3, 0, enc, DataClassString)
			require.NoError(t, err)
			assert.Equal(t, "payload", string(dec))
		})
	}
}

func TestOwnerPasswordWithPrintOnly(t *testing.T) {
	cfg := EncryptionConfig{
		UserPassword:  "",
		OwnerPassword: "boss",
		Permissions:   Permissions{Print: true},
		Algorithm:     AES_128,
	}
	_, dict, err := NewStandardEncryption(cfg, testFileID)
	require.NoError(t, err)

	h := reopen(t, dict)
	assert.True(t, h.VerifyOwnerPassword("boss"))
	assert.True(t, h.VerifyUserPassword(""))
	assert.False(t, h.VerifyOwnerPassword(""))

	require.NoError(t, h.Authenticate(""))
	perms := h.Permissions()
	assert.True(t, perms.Print)
	assert.False(t, perms.Modify)
	assert.False(t, perms.Copy)
	assert.False(t, perms.PrintHighQuality)
}

func TestPermissionBits(t *testing.T) {
	v := Permissions{Print: true, Copy: true}.Value()
	assert.Zero(t, v&3, "bits 1-2 must be clear")
	assert.Equal(t, int32(0xC0), v&0xC0, "bits 7-8 are set")
	assert.True(t, uint32(v)&0xFFFFF000 == 0xFFFFF000, "bits 13-32 are set")
	assert.NotZero(t, v&permPrint)
	assert.Zero(t, v&permModify)
	assert.Equal(t, Permissions{Print: true, Copy: true}, PermissionsFromValue(v))
	assert.Equal(t, int32(-4), AllPermissions().Value())
}

func TestObjectKey(t *testing.T) {
	key := []byte{1, 2, 3, 4, 5}
	assert.Len(t, ObjectKey(key, 12, 0, 2, false), 10)
	assert.Len(t, ObjectKey(make([]byte, 16), 12, 0, 4, true), 16)
	assert.NotEqual(t, ObjectKey(key, 12, 0, 3, false), ObjectKey(key, 13, 0, 3, false))
	full := make([]byte, 32)
	assert.Equal(t, full, ObjectKey(full, 1, 0, 6, true))
}

func TestUnencryptedMetadata(t *testing.T) {
	w, dict, err := NewStandardEncryption(EncryptionConfig{Algorithm: AES_128, EncryptMetadata: false}, testFileID)
	require.NoError(t, err)
	meta := []byte("<x:xmpmeta/>")
	out, err := w.Encrypt(9, 0, meta, DataClassMetadataStream)
	require.NoError(t, err)
	assert.Equal(t, meta, out)

	em, ok := dict.GetBool("EncryptMetadata")
	require.True(t, ok)
	assert.False(t, em)
	h := reopen(t, dict)
	require.NoError(t, h.Authenticate(""))
	assert.False(t, h.EncryptMetadata())
}

func TestBuildRejectsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		dict *raw.DictObj
	}{
		{"public key handler", raw.DictOf("Filter", raw.NameLiteral("Adobe.PubSec"), "V", raw.NumberInt(1), "R", raw.NumberInt(2))},
		{"unknown revision", raw.DictOf("Filter", raw.NameLiteral("Standard"), "V", raw.NumberInt(2), "R", raw.NumberInt(9))},
		{"short entries", raw.DictOf("Filter", raw.NameLiteral("Standard"), "V", raw.NumberInt(1), "R", raw.NumberInt(2), "O", raw.Str([]byte("x")), "U", raw.Str([]byte("y")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&HandlerBuilder{}).WithEncryptDict(tt.dict).Build()
			assert.True(t, errors.Is(err, ErrUnsupportedEncryption), "%v", err)
		})
	}
}

func TestNoopHandler(t *testing.T) {
	h := NoopHandler()
	assert.False(t, h.IsEncrypted())
	out, err := h.Decrypt(1, 0, []byte("x"), DataClassString)
	require.NoError(t, err)
	assert.Equal(t, "x", string(out))
}

func TestDefaultLimits(t *testing.T) {
	l := Limits{MaxXRefDepth: 3}.WithDefaults()
	assert.Equal(t, 3, l.MaxXRefDepth)
	assert.Equal(t, DefaultLimits().MaxDecompressedSize, l.MaxDecompressedSize)
}
