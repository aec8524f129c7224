package security

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
)

var (
	// ErrUnsupportedEncryption reports a security handler or V/R combination
	// that cannot be read.
	ErrUnsupportedEncryption = errors.New("unsupported encryption")
	// ErrWrongPassword reports that neither the user nor the owner password
	// matched the document's verification values.
	ErrWrongPassword = errors.New("wrong password")
)

// Permissions are the user access flags of the standard security handler.
type Permissions struct {
	Print             bool
	Modify            bool
	Copy              bool
	ModifyAnnotations bool
	FillForms         bool
	ExtractAccessible bool
	Assemble          bool
	PrintHighQuality  bool
}

// AllPermissions grants everything.
func AllPermissions() Permissions {
	return Permissions{true, true, true, true, true, true, true, true}
}

const (
	permPrint       = 1 << 2
	permModify      = 1 << 3
	permCopy        = 1 << 4
	permAnnotations = 1 << 5
	permFillForms   = 1 << 8
	permExtract     = 1 << 9
	permAssemble    = 1 << 10
	permPrintHigh   = 1 << 11
	permDocumented  = permPrint | permModify | permCopy | permAnnotations | permFillForms | permExtract | permAssemble | permPrintHigh
)

// Value encodes p as a /P entry: bits 1-2 are clear and every undocumented
// bit is set.
func (p Permissions) Value() int32 {
	v := ^uint32(0) &^ 3 &^ permDocumented
	for bit, on := range map[uint32]bool{
		permPrint: p.Print, permModify: p.Modify, permCopy: p.Copy, permAnnotations: p.ModifyAnnotations,
		permFillForms: p.FillForms, permExtract: p.ExtractAccessible, permAssemble: p.Assemble, permPrintHigh: p.PrintHighQuality,
	} {
		if on {
			v |= bit
		}
	}
	return int32(v)
}

// PermissionsFromValue decodes a /P entry.
func PermissionsFromValue(p int32) Permissions {
	return Permissions{
		Print:             p&permPrint != 0,
		Modify:            p&permModify != 0,
		Copy:              p&permCopy != 0,
		ModifyAnnotations: p&permAnnotations != 0,
		FillForms:         p&permFillForms != 0,
		ExtractAccessible: p&permExtract != 0,
		Assemble:          p&permAssemble != 0,
		PrintHighQuality:  p&permPrintHigh != 0,
	}
}

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

type Handler interface {
	IsEncrypted() bool
	// Authenticate tries password as the user password, then as the owner
	// password, and keeps the resulting file key.
	Authenticate(password string) error
	// VerifyUserPassword and VerifyOwnerPassword never change the active key.
	VerifyUserPassword(password string) bool
	VerifyOwnerPassword(password string) bool
	// OwnerAuthenticated reports whether the active key came from the owner password.
	OwnerAuthenticated() bool
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	DecryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error)
	Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Permissions() Permissions
	EncryptMetadata() bool
	Revision() int
}

// HandlerBuilder reads an /Encrypt dictionary into a Handler.
type HandlerBuilder struct {
	encryptDict *raw.DictObj
	fileID      []byte
}

func (b *HandlerBuilder) WithEncryptDict(d *raw.DictObj) *HandlerBuilder { b.encryptDict = d; return b }
func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder           { b.fileID = id; return b }

// Build validates the dictionary. The handler still needs Authenticate
// before it can decrypt anything.
func (b *HandlerBuilder) Build() (Handler, error) {
	d := b.encryptDict
	if d == nil {
		return noEncryptionHandler{}, nil
	}
	if f, ok := d.GetName("Filter"); ok && f != "Standard" {
		return nil, errors.Wrapf(ErrUnsupportedEncryption, "security handler /%s", f)
	}
	v, _ := d.GetInt("V")
	r, ok := d.GetInt("R")
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedEncryption, "missing /R")
	}
	switch {
	case v == 0 || v == 3:
		return nil, errors.Wrapf(ErrUnsupportedEncryption, "/V %d", v)
	case v > 5, r < 2, r > 6:
		return nil, errors.Wrapf(ErrUnsupportedEncryption, "/V %d /R %d", v, r)
	}

	keyLen := 5
	switch {
	case v >= 5:
		keyLen = 32
	case v >= 2:
		keyLen = 16
		if n, ok := d.GetInt("Length"); ok && n >= 40 && n <= 128 && n%8 == 0 {
			keyLen = int(n / 8)
		}
	}

	h := &standardHandler{v: int(v), r: int(r), keyLen: keyLen, fileID: b.fileID, encryptMeta: true}
	h.o, _ = d.GetString("O")
	h.u, _ = d.GetString("U")
	h.oe, _ = d.GetString("OE")
	h.ue, _ = d.GetString("UE")
	h.perms, _ = d.GetString("Perms")
	p, _ := d.GetInt("P")
	h.p = int32(p)
	if em, ok := d.GetBool("EncryptMetadata"); ok {
		h.encryptMeta = em
	}
	if len(h.o) < 32 || len(h.u) < 32 {
		return nil, errors.Wrap(ErrUnsupportedEncryption, "/O or /U too short")
	}
	if r >= 5 && (len(h.o) < 48 || len(h.u) < 48 || len(h.oe) < 32 || len(h.ue) < 32) {
		return nil, errors.Wrap(ErrUnsupportedEncryption, "AES-256 verification entries too short")
	}

	base := algoRC4
	if v >= 4 {
		base = algoNone
	}
	cf, err := parseCryptFilters(d)
	if err != nil {
		return nil, err
	}
	h.cryptFilters = cf
	if v >= 4 {
		if h.streamAlgo, err = resolveCryptFilter(d, "StmF", base, cf); err != nil {
			return nil, err
		}
		if h.stringAlgo, err = resolveCryptFilter(d, "StrF", base, cf); err != nil {
			return nil, err
		}
	} else {
		h.streamAlgo, h.stringAlgo = algoRC4, algoRC4
	}
	return h, nil
}

// Open builds a handler for an /Encrypt dictionary and authenticates it.
func Open(encryptDict *raw.DictObj, fileID []byte, password string) (Handler, error) {
	h, err := (&HandlerBuilder{}).WithEncryptDict(encryptDict).WithFileID(fileID).Build()
	if err != nil {
		return nil, err
	}
	if err := h.Authenticate(password); err != nil {
		return nil, err
	}
	return h, nil
}

type cryptAlgo int

const (
	algoUnset cryptAlgo = iota
	algoNone
	algoRC4
	algoAES
)

func parseCryptFilters(d *raw.DictObj) (map[string]cryptAlgo, error) {
	out := make(map[string]cryptAlgo)
	cfDict, ok := d.GetDict("CF")
	if !ok {
		return out, nil
	}
	for _, name := range cfDict.Keys() {
		entry, ok := cfDict.GetDict(name)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedEncryption, "crypt filter %s is not a dictionary", name)
		}
		algo := algoNone
		if cfm, ok := entry.GetName("CFM"); ok {
			switch cfm {
			case "V2":
				algo = algoRC4
			case "AESV2", "AESV3":
				algo = algoAES
			case "None":
			default:
				return nil, errors.Wrapf(ErrUnsupportedEncryption, "crypt filter method %s", cfm)
			}
		}
		out[name] = algo
	}
	return out, nil
}

func resolveCryptFilter(d *raw.DictObj, key string, base cryptAlgo, filters map[string]cryptAlgo) (cryptAlgo, error) {
	name, _ := d.GetName(key)
	switch name {
	case "", "Identity":
		return algoNone, nil
	}
	if algo, ok := filters[name]; ok {
		return algo, nil
	}
	if name == "Standard" {
		return base, nil
	}
	return algoUnset, errors.Wrapf(ErrUnsupportedEncryption, "crypt filter %s not defined", name)
}

type noEncryptionHandler struct{}

func (noEncryptionHandler) IsEncrypted() bool               { return false }
func (noEncryptionHandler) Authenticate(string) error       { return nil }
func (noEncryptionHandler) VerifyUserPassword(string) bool  { return true }
func (noEncryptionHandler) VerifyOwnerPassword(string) bool { return true }
func (noEncryptionHandler) OwnerAuthenticated() bool        { return true }
func (noEncryptionHandler) Permissions() Permissions        { return AllPermissions() }
func (noEncryptionHandler) EncryptMetadata() bool           { return false }
func (noEncryptionHandler) Revision() int                   { return 0 }
func (noEncryptionHandler) Decrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) DecryptWithFilter(_, _ int, data []byte, _ DataClass, _ string) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Encrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}

// NoopHandler returns a pass-through handler for unencrypted documents.
func NoopHandler() Handler { return noEncryptionHandler{} }
