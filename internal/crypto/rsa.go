package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// Chunk sizes for a 1024-bit key with OAEP/SHA-256 padding: 62 plaintext
// bytes fit per block, each block encrypts to 128 bytes.
const (
	encryptChunkSize = 62
	decryptChunkSize = 128
)

// ParsePublicKey parses a PEM-encoded RSA public key.
func ParsePublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return pub, nil
}

// ParsePrivateKey parses a PEM-encoded RSA private key in PKCS#8 form.
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return priv, nil
}

// Encrypt encrypts a message of any length by splitting it into fixed
// blocks, encrypting each with RSA-OAEP, and base64-encoding the
// concatenated ciphertext.
func Encrypt(pub *rsa.PublicKey, message string) (string, error) {
	data := []byte(message)
	var out []byte
	for len(data) > 0 {
		n := encryptChunkSize
		if len(data) < n {
			n = len(data)
		}
		block, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data[:n], nil)
		if err != nil {
			return "", fmt.Errorf("encryption failed: %w", err)
		}
		out = append(out, block...)
		data = data[n:]
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt: base64-decode, split into ciphertext blocks,
// decrypt each, reassemble.
func Decrypt(priv *rsa.PrivateKey, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid base64 ciphertext: %w", err)
	}
	var out []byte
	for len(data) > 0 {
		n := decryptChunkSize
		if len(data) < n {
			n = len(data)
		}
		block, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, data[:n], nil)
		if err != nil {
			return "", fmt.Errorf("decryption failed: %w", err)
		}
		out = append(out, block...)
		data = data[n:]
	}
	return string(out), nil
}
