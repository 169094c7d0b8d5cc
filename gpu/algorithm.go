package gpu

import (
	"fmt"

	"argon-gpu-miner/argon"
)

// Algorithm binds an Argon2 variant to a device state: Init loads the job
// onto the device, Hash runs one batch.
type Algorithm struct {
	argon.Descriptor

	state *DeviceState
}

// NewAlgorithm fails with argon.ErrUnknownAlgorithm for unsupported names.
func NewAlgorithm(name string) (*Algorithm, error) {
	d, err := argon.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Algorithm{Descriptor: d}, nil
}

func (a *Algorithm) Init(state *DeviceState) (err error) {
	defer recoverFault(&err)

	a.state = state
	return state.load()
}

// Hash runs one batch starting at nonce. A panic inside the driver is
// returned as an error like any other device fault.
func (a *Algorithm) Hash(nonce uint32) (res HashResult, err error) {
	defer recoverFault(&err)

	if a.state == nil {
		return HashResult{}, fmt.Errorf("%s: hash before init", a.Variant)
	}
	return a.state.run(nonce)
}

func recoverFault(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("device panic: %v", r)
	}
}
