package main

import (
	"encoding/hex"
	"fmt"

	"argon-gpu-miner/pool"
	"argon-gpu-miner/util"

	"github.com/zeebo/blake3"
)

const benchmarkBlobLength = 76

// benchmarkJob builds a job that does not need a pool: its blob is random and
// every share is checked locally.
func benchmarkJob(algorithm string, difficulty uint64, seed uint32) pool.Job {
	blob := make([]byte, 0, benchmarkBlobLength)

	h := blake3.New()
	h.Write(util.Uint32ToLittleEndian(seed))
	d := h.Digest()
	for len(blob) < benchmarkBlobLength {
		var chunk [32]byte
		d.Read(chunk[:])
		blob = append(blob, chunk[:]...)
	}
	blob = blob[:benchmarkBlobLength]
	util.SetBlobNonce(blob, 0)

	target := fmt.Sprintf("%08x", difficulty)
	return pool.Job{
		Blob:            hex.EncodeToString(blob),
		RawBlob:         blob,
		JobID:           "benchmark-" + util.NonceHex(seed),
		Target:          target,
		ShareDifficulty: difficulty,
		Algorithm:       algorithm,
	}
}
