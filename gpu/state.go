package gpu

import (
	"errors"
	"fmt"

	"argon-gpu-miner/argon"
)

var errFreed = errors.New("device state already freed")

// DeviceState is the hashing state one worker keeps on its device for the
// currently loaded algorithm. It is owned by that worker only.
type DeviceState struct {
	Device Device
	Shape  argon.Descriptor
	Launch LaunchParams

	kernel Kernel
	job    KernelJob
}

func newDeviceState(driver Driver, d Device, shape argon.Descriptor, launch LaunchParams) (s *DeviceState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("allocating %s: %v", Label(d), r)
		}
	}()

	kernel, err := driver.Allocate(d, shape, launch)
	if err != nil {
		return nil, fmt.Errorf("allocating %s: %w", Label(d), err)
	}

	return &DeviceState{
		Device: d,
		Shape:  shape,
		Launch: launch,
		kernel: kernel,
	}, nil
}

// InitJob stages a job; the algorithm's Init uploads it.
func (s *DeviceState) InitJob(blob, salt []byte, startNonce uint32, target uint64, niceHash bool) {
	s.job = KernelJob{
		Blob:       blob,
		Salt:       salt,
		StartNonce: startNonce,
		Target:     target,
		IsNiceHash: niceHash,
	}
}

// Free releases the device memory. Calling it on a nil or freed state is a no-op.
func (s *DeviceState) Free() error {
	if s == nil || s.kernel == nil {
		return nil
	}

	k := s.kernel
	s.kernel = nil
	return k.Free()
}

func (s *DeviceState) load() error {
	if s.kernel == nil {
		return errFreed
	}
	return s.kernel.Load(s.job)
}

func (s *DeviceState) run(nonce uint32) (HashResult, error) {
	if s.kernel == nil {
		return HashResult{}, errFreed
	}
	return s.kernel.Run(nonce)
}
