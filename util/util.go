package util

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"
)

// NONCE_OFFSET is where CryptoNote block hashing blobs keep their 4 byte nonce.
const NONCE_OFFSET = 39

var ErrBlobTooShort = errors.New("blob too short to hold a nonce")

func RandomUint32() uint32 {
	b := make([]byte, 4)
	rand.Read(b)

	return binary.LittleEndian.Uint32(b)
}

func Uint32ToLittleEndian(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

// BlobNonce reads the little endian nonce stored in a hashing blob.
func BlobNonce(blob []byte) (uint32, error) {
	if len(blob) < NONCE_OFFSET+4 {
		return 0, ErrBlobTooShort
	}
	return binary.LittleEndian.Uint32(blob[NONCE_OFFSET:]), nil
}

// SetBlobNonce writes nonce into blob in place.
func SetBlobNonce(blob []byte, nonce uint32) error {
	if len(blob) < NONCE_OFFSET+4 {
		return ErrBlobTooShort
	}
	binary.LittleEndian.PutUint32(blob[NONCE_OFFSET:], nonce)
	return nil
}

// NonceHex encodes a nonce the way pools expect it in submits: 8 hex chars, little endian.
func NonceHex(nonce uint32) string {
	return hex.EncodeToString(Uint32ToLittleEndian(nonce))
}

func AssertHex(h string) []byte {
	data, err := hex.DecodeString(h)
	if err != nil {
		panic(err)
	}
	return data
}

// ParseHexUint64 parses a big endian hex string such as a pool target.
func ParseHexUint64(h string) (uint64, error) {
	if h == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseUint(h, 16, 64)
}
