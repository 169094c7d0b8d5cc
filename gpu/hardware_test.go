package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevices() []Device {
	return []Device{
		{ID: 0, Name: "RTX 2080", Enabled: true, MemoryMiB: 8192, MaxNonces: 300},
		{ID: 1, Name: "GTX 1060", Enabled: false, MemoryMiB: 6144},
		{ID: 2, Name: "GTX 1060", Enabled: true, MemoryMiB: 3072, Intensity: 50, MaxNonces: 1000},
		{ID: 5, Name: "RX 580", Enabled: true, MemoryMiB: 1},
	}
}

func TestNoncesPerRun(t *testing.T) {
	tests := []struct {
		device    Device
		memoryKiB uint32
		expected  uint32
	}{
		{Device{MemoryMiB: 1024}, 512, 2048},
		{Device{MemoryMiB: 1024}, 256, 4096},
		{Device{MemoryMiB: 1024, Intensity: 50}, 512, 1024},
		{Device{MemoryMiB: 1024, MaxNonces: 100}, 512, 100},
		{Device{MemoryMiB: 0}, 512, 1},
		{Device{MemoryMiB: 1 << 30}, 1, 1 << 24},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, noncesPerRun(tt.device, tt.memoryKiB), "%+v at %d KiB", tt.device, tt.memoryKiB)
	}
}

func TestPartition(t *testing.T) {
	hw, err := NewHardwareConfig(testDevices())
	require.NoError(t, err)

	hw.InitNonceOffsets(512)

	launch, round := hw.Partition(0, 512)
	assert.Equal(t, LaunchParams{NonceOffset: 0, NoncesPerRun: 300}, launch)
	assert.Equal(t, uint32(1302), round)

	launch, _ = hw.Partition(1, 512)
	assert.Equal(t, LaunchParams{}, launch)

	launch, _ = hw.Partition(2, 512)
	assert.Equal(t, LaunchParams{NonceOffset: 300, NoncesPerRun: 1000}, launch)

	launch, _ = hw.Partition(5, 512)
	assert.Equal(t, LaunchParams{NonceOffset: 1300, NoncesPerRun: 2}, launch)

	launch, round = hw.Partition(5, 256)
	assert.Equal(t, LaunchParams{NonceOffset: 1300, NoncesPerRun: 4}, launch)
	assert.Equal(t, uint32(1304), round)

	// sizing another shape leaves this one alone
	launch, round = hw.Partition(5, 512)
	assert.Equal(t, LaunchParams{NonceOffset: 1300, NoncesPerRun: 2}, launch)
	assert.Equal(t, uint32(1302), round)
}

// Every nonce tested by one device over several rounds must be unique across
// all devices, also when the shared nonce wraps around.
func TestNonceRangesDisjoint(t *testing.T) {
	hw, err := NewHardwareConfig(testDevices())
	require.NoError(t, err)

	for _, memory := range []uint32{512, 256} {
		for _, shared := range []uint32{0, 0x12345678, 0xFFFFFF00} {
			owner := make(map[uint32]int)

			for _, d := range hw.Enabled() {
				launch, round := hw.Partition(d.ID, memory)
				start := shared + launch.NonceOffset

				for r := 0; r < 4; r++ {
					for i := uint32(0); i < launch.NoncesPerRun; i++ {
						nonce := start + i
						prev, taken := owner[nonce]
						require.False(t, taken, "nonce %08x hashed by devices %d and %d", nonce, prev, d.ID)
						owner[nonce] = d.ID
					}
					start += round
				}
			}
		}
	}
}

func TestNewHardwareConfigRejectsBadDevices(t *testing.T) {
	_, err := NewHardwareConfig([]Device{{ID: 1}, {ID: 1}})
	assert.Error(t, err)

	_, err = NewHardwareConfig([]Device{{ID: 1, Intensity: 120}})
	assert.Error(t, err)

	hw, err := NewHardwareConfig(testDevices())
	require.NoError(t, err)
	assert.Len(t, hw.Enabled(), 3)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "RTX 2080-0", Label(Device{ID: 0, Name: "RTX 2080"}))
}

func TestNiceHashNonce(t *testing.T) {
	assert.Equal(t, uint32(0xAB345678), NiceHashNonce(0x12345678, 0xAB000000))
	assert.Equal(t, uint32(0xAB345678), NiceHashNonce(0x12345678, 0xABCDEF01))
}
