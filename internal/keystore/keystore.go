// Package keystore implements the encrypted wallet-key file format: per
// wallet, salt || nonce || AES-256-GCM(Argon2id(password)) over the raw
// 32-byte secp256k1 private key.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"

	"github.com/pos-ledger/node/internal/crypto"
)

// Argon2 parameters, matching the teacher's Argon2id password-hashing
// configuration (OWASP-recommended for interactive password KDF use).
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLen      = 32
	saltLen           = 16
)

// File layout constants per the keystore wire format: salt || nonce || ct.
const (
	nonceLen = 12
)

// Store manages encrypted keystore files under a directory, one file per
// wallet address named by its hex address.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Create generates a new keypair, encrypts it under password, and writes
// it to <dir>/<address>. Returns the new key.
func (s *Store) Create(password string) (*crypto.PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := s.save(key, password); err != nil {
		return nil, err
	}
	return key, nil
}

// Load decrypts the keystore file for address using password.
func (s *Store) Load(address, password string) (*crypto.PrivateKey, error) {
	path := filepath.Join(s.dir, address)
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}

	if len(blob) < saltLen+nonceLen {
		return nil, fmt.Errorf("keystore file too short: %s", path)
	}
	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+nonceLen]
	ciphertext := blob[saltLen+nonceLen:]

	aesKey := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLen)
	defer secureClear(aesKey)

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore (wrong password?): %w", err)
	}
	defer secureClear(plaintext)

	return crypto.PrivateKeyFromBytes(plaintext)
}

func (s *Store) save(key *crypto.PrivateKey, password string) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	aesKey := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLen)
	defer secureClear(aesKey)

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	plaintext := key.Bytes()
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	blob := make([]byte, 0, saltLen+nonceLen+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	path := filepath.Join(s.dir, key.Address())
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("write keystore file: %w", err)
	}
	return nil
}

func secureClear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
