// Package crypto provides the secp256k1 signing, hashing, and Merkle-root
// primitives shared by the ledger, keystore, and overlay packages.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// AddressLen is the length in bytes of a compressed secp256k1 public key.
const AddressLen = 33

// SignatureLen is the length in bytes of a raw (non-DER) secp256k1 r||s
// signature, matching the wire format of the original Rust node.
const SignatureLen = 64

// PrivateKey wraps a secp256k1 scalar.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random keypair.
func GenerateKey() (*PrivateKey, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: k}, nil
}

// PrivateKeyFromBytes parses a 32-byte scalar into a PrivateKey.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	k := secp256k1.PrivKeyFromBytes(b)
	return &PrivateKey{key: k}, nil
}

// Bytes returns the raw 32-byte scalar.
func (p *PrivateKey) Bytes() []byte {
	return p.key.Serialize()
}

// Address returns the hex-encoded 33-byte compressed public key for this
// key, the wallet address format used throughout the ledger.
func (p *PrivateKey) Address() string {
	return hex.EncodeToString(p.key.PubKey().SerializeCompressed())
}

// Sign produces a raw 64-byte r||s signature over hash (not a digest of
// hash — callers pass the already-hashed message, matching tx/block
// hash-then-sign semantics).
func (p *PrivateKey) Sign(hash []byte) ([]byte, error) {
	sig := ecdsa.Sign(p.key, hash)
	return rawFromSignature(sig), nil
}

// rawFromSignature serializes a DER-capable ecdsa.Signature to the raw
// 64-byte r||s format used on the wire, matching the original
// implementation's "standard" (non-DER) signature encoding.
func rawFromSignature(sig *ecdsa.Signature) []byte {
	der := sig.Serialize()
	r, s := parseDERComponents(der)
	out := make([]byte, SignatureLen)
	copy(out[32-len(r):32], r)
	copy(out[64-len(s):64], s)
	return out
}

// parseDERComponents extracts the r and s big-endian byte strings from a
// DER-encoded ECDSA signature (SEQUENCE of two INTEGERs), stripping any
// leading sign-padding byte.
func parseDERComponents(der []byte) (r, s []byte) {
	// der[0] = 0x30, der[1] = total len, der[2] = 0x02, der[3] = rLen
	rLen := int(der[3])
	rStart := 4
	r = der[rStart : rStart+rLen]
	r = trimLeadingZero(r)

	sHeader := rStart + rLen
	// der[sHeader] = 0x02, der[sHeader+1] = sLen
	sLen := int(der[sHeader+1])
	sStart := sHeader + 2
	s = der[sStart : sStart+sLen]
	s = trimLeadingZero(s)
	return r, s
}

func trimLeadingZero(b []byte) []byte {
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b
}

// Verify checks a raw 64-byte r||s signature against an address (hex
// compressed pubkey) and hash.
func Verify(address string, hash, signature []byte) bool {
	if len(signature) != SignatureLen {
		return false
	}
	pubKey, err := parseAddress(address)
	if err != nil {
		return false
	}

	var rBytes, sBytes [32]byte
	copy(rBytes[:], signature[:32])
	copy(sBytes[:], signature[32:64])

	var r, s secp256k1.ModNScalar
	if overflow := r.SetBytes(&rBytes); overflow != 0 {
		return false
	}
	if overflow := s.SetBytes(&sBytes); overflow != 0 {
		return false
	}

	sig := ecdsa.NewSignature(&r, &s)
	return sig.Verify(hash, pubKey)
}

func parseAddress(address string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(raw) != AddressLen {
		return nil, fmt.Errorf("address must be %d bytes, got %d", AddressLen, len(raw))
	}
	return secp256k1.ParsePubKey(raw)
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ZeroAddressHex is the all-zero 33-byte compressed pubkey used as the
// genesis block's validator field.
var ZeroAddressHex = hex.EncodeToString(make([]byte, AddressLen))

// ZeroHashHex is the all-zero 32-byte hash used as the genesis block's
// parent hash and as the Merkle root of an empty set.
var ZeroHashHex = hex.EncodeToString(make([]byte, 32))

// MerkleRoot computes a binary SHA-256 Merkle root over leaves, which
// are themselves already 32-byte hashes (e.g. a tx hash or a Stake.Hash()
// output) used as the tree's level-0 nodes directly, with no further
// per-leaf hashing. An empty leaf set yields the all-zero 32-byte root.
func MerkleRoot(leaves [][]byte) [32]byte {
	if len(leaves) == 0 {
		var zero [32]byte
		return zero
	}

	level := make([][32]byte, len(leaves))
	for i, l := range leaves {
		copy(level[i][:], l)
	}

	for len(level) > 1 {
		var next [][32]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				combined := append(append([]byte{}, level[i][:]...), level[i+1][:]...)
				next = append(next, sha256.Sum256(combined))
			} else {
				// Odd node out: promote it unchanged to the next level.
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}

// MerkleRootHex computes MerkleRoot and hex-encodes the result.
func MerkleRootHex(leaves [][]byte) string {
	root := MerkleRoot(leaves)
	return hex.EncodeToString(root[:])
}
