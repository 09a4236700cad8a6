package sph

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"git.sr.ht/~kvo/go-std/errors"
	"github.com/google/uuid"
)

// The portal's fixed RSA public key, used to wrap the symmetric key during
// the legacy login handshake.
const portalKeyPEM = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEArXKtLip0AJ2Ls39Lzxul
/Vg4XHQNS9dZgJHqC6GyZl8B8u4ztqwAYPiWcv5JHwm3fMiqSTC2c29G7ptIkuNF
uiv8EEbeJaAaeoOYSNQHmuoFtgY1LedHldCKJHKXDwOCUedlwO13oVHvTMJP+Ph7
Oe9h3TMR3jtReJ4+RTd5VWJ1cVMzF7AlXkbmMdkgYMV3XBfmXFdV4t+Dnz2qt+lV
yYp0Ao1iw02WeS8XnC8F8SZs2JWLDgBj4DKi09uELYjd14m7co3+EE2DHiOI82Pl
IS07r8GRWt/Ku+YK5HXinhsynDUZqzdEkpmeK+2jvM8p3NdZItNW74hAUjWs4o5q
LwIDAQAB
-----END PUBLIC KEY-----`

// portalKey is a variable so the legacy login tests can substitute a key
// pair they hold the private half of.
var portalKey = mustParseKey(portalKeyPEM)

func mustParseKey(pemText string) *rsa.PublicKey {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		panic("sph: invalid portal public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		panic("sph: cannot parse portal public key: " + err.Error())
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		panic("sph: portal public key is not RSA")
	}
	return key
}

// generateKeyString produces the symmetric key string for the legacy
// handshake: a fresh UUID encrypted under a fresh UUID passphrase, in the
// portal's expected AES container format (88 base64 characters).
func generateKeyString() (string, error) {
	return sealAES([]byte(uuid.NewString()), uuid.NewString())
}

// wrapKey encrypts the key string with the portal's public RSA key using
// PKCS#1 v1.5 padding and encodes it as base64.
func wrapKey(key string) (string, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, portalKey, []byte(key))
	if err != nil {
		return "", errors.New(err, "cannot wrap handshake key")
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// The portal's legacy endpoints speak the OpenSSL "Salted__" AES container:
// base64("Salted__" + 8-byte salt + AES-256-CBC ciphertext), with key and
// IV derived from the passphrase and salt by the MD5-based EVP_BytesToKey
// scheme. Both directions are implemented here so the handshake challenge
// can be opened with the same passphrase that seals the credentials.

func deriveAES(passphrase, salt []byte) (key, iv []byte) {
	var derived []byte
	var block []byte
	for len(derived) < 48 {
		sum := md5.New()
		sum.Write(block)
		sum.Write(passphrase)
		sum.Write(salt)
		block = sum.Sum(nil)
		derived = append(derived, block...)
	}
	return derived[:32], derived[32:48]
}

func sealAES(plain []byte, passphrase string) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.New(err, "cannot generate AES salt")
	}

	key, iv := deriveAES([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err)
	}

	padding := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(padding)}, padding)...)

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := append([]byte("Salted__"), salt...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func openAES(sealed, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, errors.New(err, "AES container is not base64")
	}
	if len(raw) < 16 || string(raw[:8]) != "Salted__" {
		return nil, errors.New(nil, "AES container has no salt header")
	}

	salt, ciphertext := raw[8:16], raw[16:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New(nil, "AES ciphertext has invalid length")
	}

	key, iv := deriveAES([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	padding := int(plain[len(plain)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(plain) {
		return nil, errors.New(nil, "AES padding is invalid")
	}
	for _, b := range plain[len(plain)-padding:] {
		if int(b) != padding {
			return nil, errors.New(nil, "AES padding is invalid")
		}
	}
	return plain[:len(plain)-padding], nil
}
