package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha512"

	"github.com/pkg/errors"
	"golang.org/x/text/secure/precis"
)

func rc4Simple(key, data []byte) []byte {
	out := make([]byte, len(data))
	c, err := rc4.NewCipher(key)
	if err != nil {
		// key lengths here are always 5..16 bytes
		panic(err)
	}
	c.XORKeyStream(out, data)
	return out
}

// aesCBC encrypts with a random IV prefix and PKCS#7 padding, or reverses
// that layout.
func aesCBC(key, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		padLen := aes.BlockSize - len(data)%aes.BlockSize
		plain := append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
		out := make([]byte, aes.BlockSize+len(plain))
		iv := out[:aes.BlockSize]
		if _, err := rand.Read(iv); err != nil {
			return nil, err
		}
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], plain)
		return out, nil
	}
	if len(data) < aes.BlockSize {
		return nil, errors.New("aes ciphertext shorter than its IV")
	}
	iv, ct := data[:aes.BlockSize], data[aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, errors.Errorf("aes ciphertext of %d bytes is not block aligned", len(ct))
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, errors.New("invalid aes padding")
	}
	return out[:len(out)-pad], nil
}

// aesNoPad is AES-256-CBC with a zero IV and no padding, used for /UE and /OE.
func aesNoPad(key, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.Errorf("%d bytes are not block aligned", len(data))
	}
	iv := make([]byte, aes.BlockSize)
	out := make([]byte, len(data))
	if encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	}
	return out, nil
}

func aesCBCRaw(key, iv, data []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out
}

// aesECB handles the single block of /Perms.
func aesECB(key, block []byte, encrypt bool) []byte {
	c, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, aes.BlockSize)
	if encrypt {
		c.Encrypt(out, block)
	} else {
		c.Decrypt(out, block)
	}
	return out
}

func sha512Sum384(b []byte) []byte {
	sum := sha512.Sum384(b)
	return sum[:]
}

func sha512Sum512(b []byte) []byte {
	sum := sha512.Sum512(b)
	return sum[:]
}

// saslPrep normalises an AES-256 password and truncates it to 127 bytes.
func saslPrep(password string) []byte {
	if s, err := precis.OpaqueString.String(password); err == nil {
		password = s
	}
	b := []byte(password)
	if len(b) > 127 {
		b = b[:127]
	}
	return b
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "random")
	}
	return b, nil
}
