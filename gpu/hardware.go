package gpu

import (
	"fmt"
	"strconv"
	"sync"
)

const MiB = 1024 * 1024

// Device is one compute device as configured by the user.
type Device struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	// MemoryMiB is the device memory available for scratch space.
	MemoryMiB uint64 `json:"memory_mib"`

	// Intensity is the percentage of MemoryMiB to use, 0 means all of it.
	Intensity float64 `json:"intensity"`

	// MaxNonces caps the nonces hashed per launch, 0 means no cap.
	MaxNonces uint32 `json:"max_nonces"`
}

// Label is how a device is named in hashrate and share reports.
func Label(d Device) string {
	return d.Name + "-" + strconv.Itoa(d.ID)
}

// LaunchParams is a device's slice of the nonce space for one memory shape.
type LaunchParams struct {
	NonceOffset  uint32
	NoncesPerRun uint32
}

// partition is the split of the nonce space for one memory shape.
type partition struct {
	launch         map[int]LaunchParams
	noncesPerRound uint32
}

// HardwareConfig holds the configured devices and partitions the nonce space
// between the enabled ones.
type HardwareConfig struct {
	devices []Device

	mu         sync.Mutex
	partitions map[uint32]partition // by memoryKiB
}

func NewHardwareConfig(devices []Device) (*HardwareConfig, error) {
	seen := make(map[int]bool, len(devices))
	for _, d := range devices {
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate device id %d", d.ID)
		}
		seen[d.ID] = true

		if d.Intensity < 0 || d.Intensity > 100 {
			return nil, fmt.Errorf("device %s: intensity %v not in [0, 100]", Label(d), d.Intensity)
		}
	}

	return &HardwareConfig{
		devices:    append([]Device(nil), devices...),
		partitions: make(map[uint32]partition),
	}, nil
}

// Enabled returns the enabled devices in configuration order.
func (h *HardwareConfig) Enabled() []Device {
	out := make([]Device, 0, len(h.devices))
	for _, d := range h.devices {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// InitNonceOffsets sizes every enabled device's launch for an algorithm
// needing memoryKiB per nonce. Offsets are prefix sums of the batch sizes, so
// for a shared nonce N device i covers [N+offset_i, N+offset_i+noncesPerRun_i)
// and the next round starts at N+noncesPerRound.
func (h *HardwareConfig) InitNonceOffsets(memoryKiB uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.partition(memoryKiB)
}

// Partition returns device id's launch parameters and the round size for
// memoryKiB. Both come from the same split, whatever shape other devices
// are switching to.
func (h *HardwareConfig) Partition(id int, memoryKiB uint32) (LaunchParams, uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := h.partition(memoryKiB)
	return p.launch[id], p.noncesPerRound
}

// h.mu must be held.
func (h *HardwareConfig) partition(memoryKiB uint32) partition {
	if p, ok := h.partitions[memoryKiB]; ok {
		return p
	}

	p := partition{launch: make(map[int]LaunchParams, len(h.devices))}
	for _, d := range h.devices {
		if !d.Enabled {
			continue
		}

		n := noncesPerRun(d, memoryKiB)
		p.launch[d.ID] = LaunchParams{NonceOffset: p.noncesPerRound, NoncesPerRun: n}
		p.noncesPerRound += n
	}

	h.partitions[memoryKiB] = p
	return p
}

func noncesPerRun(d Device, memoryKiB uint32) uint32 {
	if memoryKiB == 0 {
		return 1
	}

	intensity := d.Intensity
	if intensity == 0 {
		intensity = 100
	}

	usable := uint64(float64(d.MemoryMiB*MiB) * intensity / 100)
	n := usable / (uint64(memoryKiB) * 1024)

	if d.MaxNonces != 0 && n > uint64(d.MaxNonces) {
		n = uint64(d.MaxNonces)
	}
	if n > 1<<24 {
		n = 1 << 24
	}
	if n == 0 {
		n = 1
	}
	return uint32(n)
}
