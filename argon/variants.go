// Package argon maps pool algorithm names to the Argon2id variants the miner
// supports and implements the reference (software) hash for each of them.
package argon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Variant uint8

const (
	Unknown Variant = iota
	Chukwa
	ChukwaWrkz
)

const (
	SALT_LENGTH = 16
	HASH_LENGTH = 32
)

var ErrUnknownAlgorithm = errors.New("unknown algorithm")

var aliases = map[string]Variant{
	"chukwa":        Chukwa,
	"argon2/chukwa": Chukwa,
	"trtl":          Chukwa,
	"turtlecoin":    Chukwa,

	"chukwa_wrkz":       ChukwaWrkz,
	"chukwa/wrkz":       ChukwaWrkz,
	"argon2/chukwawrkz": ChukwaWrkz,
	"argon2/wrkz":       ChukwaWrkz,
	"wrkz":              ChukwaWrkz,
	"wrkzcoin":          ChukwaWrkz,
}

func (v Variant) String() string {
	switch v {
	case Chukwa:
		return "chukwa"
	case ChukwaWrkz:
		return "chukwa_wrkz"
	default:
		return "unknown"
	}
}

// NameToCanonical resolves a user or pool supplied algorithm name.
func NameToCanonical(name string) Variant {
	return aliases[strings.ToLower(strings.TrimSpace(name))]
}

// Descriptor is the memory shape of a variant. MemoryKiB is what a single
// nonce needs in scratch memory.
type Descriptor struct {
	Variant    Variant
	MemoryKiB  uint32
	Iterations uint32
}

// Lookup fails with ErrUnknownAlgorithm for names no variant answers to.
func Lookup(name string) (Descriptor, error) {
	switch NameToCanonical(name) {
	case Chukwa:
		return Descriptor{Variant: Chukwa, MemoryKiB: 512, Iterations: 3}, nil
	case ChukwaWrkz:
		return Descriptor{Variant: ChukwaWrkz, MemoryKiB: 256, Iterations: 4}, nil
	default:
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// MemoryBytes is the scratch memory one lane of this variant needs.
func (d Descriptor) MemoryBytes() uint64 {
	return uint64(d.MemoryKiB) * 1024
}

// Sum hashes blob with the variant's parameters. Salt must be SALT_LENGTH bytes.
func (d Descriptor) Sum(blob, salt []byte) [HASH_LENGTH]byte {
	var out [HASH_LENGTH]byte
	copy(out[:], argon2.IDKey(blob, salt, d.Iterations, d.MemoryKiB, 1, HASH_LENGTH))
	return out
}

// MeetsDifficulty reports whether the top 64 bits of hash (little endian,
// bytes 24..32) fall under the target derived from diff.
func MeetsDifficulty(hash [HASH_LENGTH]byte, diff uint64) bool {
	if diff == 0 {
		return false
	}
	return binary.LittleEndian.Uint64(hash[24:]) < math.MaxUint64/diff
}
