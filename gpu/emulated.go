package gpu

import (
	"errors"
	"fmt"

	"argon-gpu-miner/argon"
	"argon-gpu-miner/util"

	"github.com/shirou/gopsutil/v3/mem"
)

// EmulatedDriver runs the kernel on the host with the reference Argon2id
// implementation, one lane after the other. It stands in for a real device
// backend in benchmark mode and in tests.
type EmulatedDriver struct{}

func (EmulatedDriver) Allocate(d Device, shape argon.Descriptor, launch LaunchParams) (Kernel, error) {
	if launch.NoncesPerRun == 0 {
		return nil, errors.New("device has no launch parameters")
	}

	need := uint64(launch.NoncesPerRun) * shape.MemoryBytes()
	if d.MemoryMiB != 0 && need > d.MemoryMiB*MiB {
		return nil, fmt.Errorf("out of device memory: need %d MiB, have %d MiB", need/MiB, d.MemoryMiB)
	}

	return &emulatedKernel{shape: shape, lanes: launch.NoncesPerRun}, nil
}

type emulatedKernel struct {
	shape argon.Descriptor
	lanes uint32

	blob     []byte
	salt     []byte
	target   uint64
	niceHash bool
	hint     uint32 // pool owned high byte with NiceHash
	freed    bool
}

func (k *emulatedKernel) Load(job KernelJob) error {
	if k.freed {
		return errFreed
	}
	if len(job.Salt) != argon.SALT_LENGTH {
		return fmt.Errorf("salt must be %d bytes, got %d", argon.SALT_LENGTH, len(job.Salt))
	}

	// the job blob is shared with other devices
	k.blob = append(k.blob[:0], job.Blob...)
	k.salt = append(k.salt[:0], job.Salt...)
	k.target = job.Target
	k.niceHash = job.IsNiceHash
	k.hint = job.StartNonce
	return nil
}

func (k *emulatedKernel) Run(startNonce uint32) (HashResult, error) {
	if k.freed {
		return HashResult{}, errFreed
	}
	if k.blob == nil {
		return HashResult{}, errors.New("no job loaded")
	}

	var res HashResult
	for i := uint32(0); i < k.lanes; i++ {
		nonce := startNonce + i
		if k.niceHash {
			nonce = NiceHashNonce(nonce, k.hint)
		}
		if err := util.SetBlobNonce(k.blob, nonce); err != nil {
			return HashResult{}, err
		}

		hash := k.shape.Sum(k.blob, k.salt)
		if !res.Success && argon.MeetsDifficulty(hash, k.target) {
			res = HashResult{Success: true, Hash: hash, Nonce: nonce}
		}
	}
	return res, nil
}

func (k *emulatedKernel) Free() error {
	if k.freed {
		return errFreed
	}
	k.freed = true
	k.blob = nil
	k.salt = nil
	return nil
}

// DetectMemoryMiB reports the host memory currently available, which is what
// emulated devices share.
func DetectMemoryMiB() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available / MiB, nil
}
