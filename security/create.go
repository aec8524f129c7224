package security

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
)

type Algorithm int

const (
	RC4_40 Algorithm = iota
	RC4_128
	AES_128
	AES_256
)

func (a Algorithm) String() string {
	switch a {
	case RC4_40:
		return "RC4-40"
	case RC4_128:
		return "RC4-128"
	case AES_128:
		return "AES-128"
	case AES_256:
		return "AES-256"
	}
	return "unknown"
}

// EncryptionConfig describes the protection applied to a written file.
// EncryptMetadata only has an effect for the AES algorithms; RC4 always
// encrypts metadata streams.
type EncryptionConfig struct {
	UserPassword    string
	OwnerPassword   string
	Permissions     Permissions
	Algorithm       Algorithm
	EncryptMetadata bool
}

// NewStandardEncryption creates a fresh standard security handler for the
// given file identifier (the first /ID string). It returns the authenticated
// handler and the /Encrypt dictionary to write.
func NewStandardEncryption(cfg EncryptionConfig, fileID []byte) (Handler, *raw.DictObj, error) {
	owner := cfg.OwnerPassword
	if owner == "" {
		owner = cfg.UserPassword
	}
	h := &standardHandler{fileID: fileID, encryptMeta: true, p: cfg.Permissions.Value()}
	dict := raw.DictOf("Filter", raw.NameLiteral("Standard"))

	switch cfg.Algorithm {
	case RC4_40:
		h.v, h.r, h.keyLen = 1, 2, 5
	case RC4_128:
		h.v, h.r, h.keyLen = 2, 3, 16
	case AES_128:
		h.v, h.r, h.keyLen = 4, 4, 16
		h.encryptMeta = cfg.EncryptMetadata
	case AES_256:
		h.v, h.r, h.keyLen = 5, 6, 32
		h.encryptMeta = cfg.EncryptMetadata
	default:
		return nil, nil, errors.Wrapf(ErrUnsupportedEncryption, "algorithm %d", cfg.Algorithm)
	}

	if h.r >= 5 {
		if err := h.initR6(cfg.UserPassword, owner); err != nil {
			return nil, nil, err
		}
		dict.Set("OE", raw.Str(h.oe))
		dict.Set("UE", raw.Str(h.ue))
		dict.Set("Perms", raw.Str(h.perms))
	} else {
		h.o = computeO([]byte(owner), []byte(cfg.UserPassword), h.keyLen, h.r)
		h.key = DeriveFileKey([]byte(cfg.UserPassword), h.o, h.p, fileID, h.keyLen, h.r, h.encryptMeta)
		h.u = computeU(h.key, fileID, h.r)
	}

	dict.Set("V", raw.NumberInt(int64(h.v)))
	dict.Set("R", raw.NumberInt(int64(h.r)))
	dict.Set("O", raw.Str(h.o))
	dict.Set("U", raw.Str(h.u))
	dict.Set("P", raw.NumberInt(int64(h.p)))
	if h.v >= 2 {
		dict.Set("Length", raw.NumberInt(int64(h.keyLen*8)))
	}

	h.streamAlgo, h.stringAlgo = algoRC4, algoRC4
	if h.v >= 4 {
		cfm, length := "AESV2", 16
		if h.v == 5 {
			cfm, length = "AESV3", 32
		}
		dict.Set("CF", raw.DictOf("StdCF", raw.DictOf(
			"Type", raw.NameLiteral("CryptFilter"),
			"CFM", raw.NameLiteral(cfm),
			"AuthEvent", raw.NameLiteral("DocOpen"),
			"Length", raw.NumberInt(int64(length)),
		)))
		dict.Set("StmF", raw.NameLiteral("StdCF"))
		dict.Set("StrF", raw.NameLiteral("StdCF"))
		if !h.encryptMeta {
			dict.Set("EncryptMetadata", raw.Bool(false))
		}
		h.cryptFilters = map[string]cryptAlgo{"StdCF": algoAES}
		h.streamAlgo, h.stringAlgo = algoAES, algoAES
	}
	return h, dict, nil
}

// initR6 generates a random file key and the /U /UE /O /OE /Perms values.
func (h *standardHandler) initR6(user, owner string) error {
	key, err := randomBytes(32)
	if err != nil {
		return err
	}
	salts, err := randomBytes(32)
	if err != nil {
		return err
	}
	up, op := saslPrep(user), saslPrep(owner)

	h.u = append(hashR6(h.r, up, salts[0:8], nil), salts[0:16]...)
	if h.ue, err = aesNoPad(hashR6(h.r, up, salts[8:16], nil), key, true); err != nil {
		return err
	}
	h.o = append(hashR6(h.r, op, salts[16:24], h.u), salts[16:32]...)
	if h.oe, err = aesNoPad(hashR6(h.r, op, salts[24:32], h.u), key, true); err != nil {
		return err
	}

	perms := make([]byte, 16)
	binary.LittleEndian.PutUint32(perms[:4], uint32(h.p))
	copy(perms[4:8], []byte{0xff, 0xff, 0xff, 0xff})
	perms[8] = 'T'
	if !h.encryptMeta {
		perms[8] = 'F'
	}
	copy(perms[9:12], "adb")
	tail, err := randomBytes(4)
	if err != nil {
		return err
	}
	copy(perms[12:], tail)
	h.perms = aesECB(key, perms, true)
	h.key = key
	return nil
}
