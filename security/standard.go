package security

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"
)

// standardHandler implements the password-based standard security handler,
// revisions 2 through 6.
type standardHandler struct {
	v, r   int
	keyLen int
	o, u   []byte
	oe, ue []byte
	perms  []byte
	p      int32
	fileID []byte

	encryptMeta  bool
	streamAlgo   cryptAlgo
	stringAlgo   cryptAlgo
	cryptFilters map[string]cryptAlgo

	key   []byte
	owner bool
}

func (h *standardHandler) IsEncrypted() bool        { return true }
func (h *standardHandler) EncryptMetadata() bool    { return h.encryptMeta }
func (h *standardHandler) Revision() int            { return h.r }
func (h *standardHandler) OwnerAuthenticated() bool { return h.owner }

func (h *standardHandler) Permissions() Permissions {
	if h.owner {
		return AllPermissions()
	}
	return PermissionsFromValue(h.p)
}

func (h *standardHandler) Authenticate(password string) error {
	if key, ok := h.userKey(password); ok {
		h.key, h.owner = key, false
		return h.checkPerms()
	}
	if key, ok := h.ownerKey(password); ok {
		h.key, h.owner = key, true
		return h.checkPerms()
	}
	return ErrWrongPassword
}

func (h *standardHandler) VerifyUserPassword(password string) bool {
	_, ok := h.userKey(password)
	return ok
}

func (h *standardHandler) VerifyOwnerPassword(password string) bool {
	_, ok := h.ownerKey(password)
	return ok
}

// userKey derives the file key from a user password and checks it against /U.
func (h *standardHandler) userKey(password string) ([]byte, bool) {
	if h.r >= 5 {
		pw := saslPrep(password)
		if !bytes.Equal(hashR6(h.r, pw, h.u[32:40], nil), h.u[:32]) {
			return nil, false
		}
		key, err := aesNoPad(hashR6(h.r, pw, h.u[40:48], nil), h.ue[:32], false)
		return key, err == nil
	}
	key := DeriveFileKey([]byte(password), h.o, h.p, h.fileID, h.keyLen, h.r, h.encryptMeta)
	want := computeU(key, h.fileID, h.r)
	n := 32
	if h.r >= 3 {
		n = 16
	}
	return key, bytes.Equal(want[:n], h.u[:n])
}

// ownerKey authenticates an owner password. For revisions up to 4 the owner
// password decrypts /O back into the padded user password.
func (h *standardHandler) ownerKey(password string) ([]byte, bool) {
	if h.r >= 5 {
		pw := saslPrep(password)
		udata := h.u[:48]
		if !bytes.Equal(hashR6(h.r, pw, h.o[32:40], udata), h.o[:32]) {
			return nil, false
		}
		key, err := aesNoPad(hashR6(h.r, pw, h.o[40:48], udata), h.oe[:32], false)
		return key, err == nil
	}
	rc4Key := ownerRC4Key([]byte(password), h.keyLen, h.r)
	userPad := append([]byte(nil), h.o[:32]...)
	if h.r == 2 {
		userPad = rc4Simple(rc4Key, userPad)
	} else {
		for i := 19; i >= 0; i-- {
			userPad = rc4Simple(xorKey(rc4Key, byte(i)), userPad)
		}
	}
	key := DeriveFileKey(userPad, h.o, h.p, h.fileID, h.keyLen, h.r, h.encryptMeta)
	want := computeU(key, h.fileID, h.r)
	n := 32
	if h.r >= 3 {
		n = 16
	}
	return key, bytes.Equal(want[:n], h.u[:n])
}

// checkPerms validates the encrypted /Perms copy of /P for AES-256.
func (h *standardHandler) checkPerms() error {
	if h.r < 5 || len(h.perms) < 16 {
		return nil
	}
	plain := aesECB(h.key, h.perms[:16], false)
	if !bytes.Equal(plain[9:12], []byte("adb")) {
		return errors.Wrap(ErrWrongPassword, "/Perms does not decrypt")
	}
	if p := int32(binary.LittleEndian.Uint32(plain[:4])); p != h.p {
		return errors.Errorf("/Perms value %d disagrees with /P %d", p, h.p)
	}
	return nil
}

func (h *standardHandler) algoFor(class DataClass, filter string) (cryptAlgo, error) {
	if class == DataClassMetadataStream && !h.encryptMeta {
		return algoNone, nil
	}
	switch filter {
	case "":
		if class == DataClassString {
			return h.stringAlgo, nil
		}
		return h.streamAlgo, nil
	case "Identity":
		return algoNone, nil
	}
	if algo, ok := h.cryptFilters[filter]; ok {
		return algo, nil
	}
	return algoUnset, errors.Wrapf(ErrUnsupportedEncryption, "crypt filter %s not defined", filter)
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return h.DecryptWithFilter(objNum, gen, data, class, "")
}

func (h *standardHandler) DecryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	if h.key == nil {
		return nil, errors.Wrap(ErrWrongPassword, "handler not authenticated")
	}
	algo, err := h.algoFor(class, cryptFilter)
	if err != nil {
		return nil, err
	}
	switch algo {
	case algoRC4:
		return rc4Simple(ObjectKey(h.key, objNum, gen, h.r, false), data), nil
	case algoAES:
		if len(data) == 0 {
			return data, nil
		}
		return aesCBC(ObjectKey(h.key, objNum, gen, h.r, true), data, false)
	}
	return data, nil
}

func (h *standardHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	if h.key == nil {
		return nil, errors.Wrap(ErrWrongPassword, "handler not authenticated")
	}
	algo, err := h.algoFor(class, "")
	if err != nil {
		return nil, err
	}
	switch algo {
	case algoRC4:
		return rc4Simple(ObjectKey(h.key, objNum, gen, h.r, false), data), nil
	case algoAES:
		return aesCBC(ObjectKey(h.key, objNum, gen, h.r, true), data, true)
	}
	return data, nil
}

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// DeriveFileKey computes the file encryption key for revisions 2-4 from a
// user password.
func DeriveFileKey(password, o []byte, p int32, fileID []byte, keyLen, r int, encryptMeta bool) []byte {
	md := md5.New()
	md.Write(padPassword(password))
	md.Write(o[:32])
	var pBuf [4]byte
	binary.LittleEndian.PutUint32(pBuf[:], uint32(p))
	md.Write(pBuf[:])
	md.Write(fileID)
	if r >= 4 && !encryptMeta {
		md.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}
	key := md.Sum(nil)
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(key[:keyLen])
			key = sum[:]
		}
	}
	return key[:keyLen]
}

// ObjectKey derives the key for one object. Revisions 5 and 6 use the file
// key directly.
func ObjectKey(fileKey []byte, objNum, gen int, r int, aes bool) []byte {
	if r >= 5 {
		return fileKey
	}
	buf := make([]byte, 0, len(fileKey)+9)
	buf = append(buf, fileKey...)
	buf = append(buf, byte(objNum), byte(objNum>>8), byte(objNum>>16), byte(gen), byte(gen>>8))
	if aes {
		buf = append(buf, "sAlT"...)
	}
	sum := md5.Sum(buf)
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

// computeU returns the /U value for a file key (32 bytes; revision 3 and 4
// fill the second half with zeros).
func computeU(key, fileID []byte, r int) []byte {
	if r == 2 {
		return rc4Simple(key, passwordPadding)
	}
	md := md5.New()
	md.Write(passwordPadding)
	md.Write(fileID)
	val := rc4Simple(key, md.Sum(nil))
	for i := 1; i <= 19; i++ {
		val = rc4Simple(xorKey(key, byte(i)), val)
	}
	return append(val, make([]byte, 16)...)
}

func ownerRC4Key(owner []byte, keyLen, r int) []byte {
	sum := md5.Sum(padPassword(owner))
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key)
			key = sum[:]
		}
	} else {
		keyLen = 5
	}
	return key[:keyLen]
}

// computeO returns the /O value for revisions 2-4.
func computeO(owner, user []byte, keyLen, r int) []byte {
	key := ownerRC4Key(owner, keyLen, r)
	val := rc4Simple(key, padPassword(user))
	if r >= 3 {
		for i := 1; i <= 19; i++ {
			val = rc4Simple(xorKey(key, byte(i)), val)
		}
	}
	return val
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ b
	}
	return out
}

// hashR6 is the password hash of revision 5 (one SHA-256) and revision 6
// (the iterated SHA-256/384/512 construction).
func hashR6(r int, password, salt, udata []byte) []byte {
	h := sha256.New()
	h.Write(password)
	h.Write(salt)
	h.Write(udata)
	k := h.Sum(nil)
	if r == 5 {
		return k
	}
	for round := 0; ; round++ {
		unit := make([]byte, 0, len(password)+len(k)+len(udata))
		unit = append(unit, password...)
		unit = append(unit, k...)
		unit = append(unit, udata...)
		k1 := bytes.Repeat(unit, 64)
		e := aesCBCRaw(k[:16], k[16:32], k1)
		mod := 0
		for _, b := range e[:16] {
			mod += int(b)
		}
		switch mod % 3 {
		case 0:
			sum := sha256.Sum256(e)
			k = sum[:]
		case 1:
			sum := sha512Sum384(e)
			k = sum
		default:
			sum := sha512Sum512(e)
			k = sum
		}
		if round >= 63 && int(e[len(e)-1]) <= round+1-32 {
			break
		}
	}
	return k[:32]
}
