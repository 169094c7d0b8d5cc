package gpu

import (
	"argon-gpu-miner/argon"
)

// HashResult is the outcome of one kernel launch. Nonce and Hash are only
// meaningful when Success is set.
type HashResult struct {
	Success bool
	Hash    [argon.HASH_LENGTH]byte
	Nonce   uint32
}

// KernelJob is what a kernel needs to hash a job.
type KernelJob struct {
	Blob       []byte
	Salt       []byte
	StartNonce uint32
	Target     uint64
	IsNiceHash bool
}

// Driver talks to the devices of one backend.
type Driver interface {
	// Allocate reserves scratch memory on d for launch.NoncesPerRun lanes of
	// the given shape.
	Allocate(d Device, shape argon.Descriptor, launch LaunchParams) (Kernel, error)
}

// Kernel is the allocated hashing state on one device. Errors returned by Run
// are device faults.
type Kernel interface {
	Load(job KernelJob) error
	Run(startNonce uint32) (HashResult, error)
	Free() error
}
