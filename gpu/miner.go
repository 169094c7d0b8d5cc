// Package gpu drives the compute devices: one worker goroutine per enabled
// device, a shared job that can be swapped while they run, and a nonce space
// split so no two devices ever test the same nonce.
package gpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"argon-gpu-miner/argon"
	"argon-gpu-miner/log"
	"argon-gpu-miner/pool"
	"argon-gpu-miner/util"
)

// work is the job and shared nonce the workers read. It is replaced as a
// whole, never modified.
type work struct {
	job   pool.Job
	nonce uint32
}

// Miner owns one worker per enabled device.
type Miner struct {
	hw      *HardwareConfig
	driver  Driver
	devices []Device

	submitValidHash          func(pool.JobSubmit)
	incrementHashesPerformed func(hashes uint32, device string)

	// mu serializes Start, Stop and SetNewJob.
	mu         sync.Mutex
	current    atomic.Pointer[work]
	newJob     map[int]*atomic.Bool
	shouldStop atomic.Bool
	wg         sync.WaitGroup

	faulted sync.Map // device label -> error
}

// NewMiner builds a miner for the enabled devices of hw. Both callbacks are
// called concurrently from the device workers.
func NewMiner(
	hw *HardwareConfig,
	driver Driver,
	submitValidHash func(pool.JobSubmit),
	incrementHashesPerformed func(hashes uint32, device string),
) *Miner {
	return &Miner{
		hw:                       hw,
		driver:                   driver,
		devices:                  hw.Enabled(),
		submitValidHash:          submitValidHash,
		incrementHashesPerformed: incrementHashesPerformed,
	}
}

// Devices returns the devices this miner runs workers for.
func (m *Miner) Devices() []Device {
	return append([]Device(nil), m.devices...)
}

// Start launches one worker per device on job, stopping running workers first.
func (m *Miner) Start(job pool.Job, initialNonce uint32) error {
	shape, err := validateJob(job)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.hw.InitNonceOffsets(shape.MemoryKiB)

	if m.newJob != nil {
		m.stop()
	}

	m.shouldStop.Store(false)
	m.current.Store(&work{job: job, nonce: initialNonce})
	m.faulted.Clear()

	m.newJob = make(map[int]*atomic.Bool, len(m.devices))
	for _, d := range m.devices {
		m.newJob[d.ID] = new(atomic.Bool)
	}

	log.Infof("Starting %d device workers on job %s (%s)", len(m.devices), job.JobID, job.Algorithm)

	for _, d := range m.devices {
		m.wg.Add(1)
		go m.hash(d, m.newJob[d.ID])
	}

	return nil
}

// Stop waits for every worker to exit. It is a no-op when nothing runs.
func (m *Miner) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stop()
}

// m.mu must be held.
func (m *Miner) stop() {
	m.shouldStop.Store(true)

	for _, flag := range m.newJob {
		flag.Store(true)
	}

	m.wg.Wait()

	m.newJob = nil
}

// SetNewJob swaps the job under running workers. Device state is only
// reallocated by workers whose algorithm changes.
func (m *Miner) SetNewJob(job pool.Job, initialNonce uint32) error {
	shape, err := validateJob(job)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.hw.InitNonceOffsets(shape.MemoryKiB)

	m.current.Store(&work{job: job, nonce: initialNonce})

	for _, flag := range m.newJob {
		flag.Store(true)
	}

	log.Debugf("New job %s (%s) published to %d workers", job.JobID, job.Algorithm, len(m.newJob))
	return nil
}

// Faulted returns the devices whose worker stopped on a device fault during
// the current session, keyed by label.
func (m *Miner) Faulted() map[string]error {
	out := make(map[string]error)
	m.faulted.Range(func(k, v any) bool {
		out[k.(string)] = v.(error)
		return true
	})
	return out
}

func validateJob(job pool.Job) (argon.Descriptor, error) {
	shape, err := argon.Lookup(job.Algorithm)
	if err != nil {
		return argon.Descriptor{}, err
	}
	if len(job.RawBlob) < util.NONCE_OFFSET+4 {
		return argon.Descriptor{}, fmt.Errorf("job %s: blob of %d bytes is too short", job.JobID, len(job.RawBlob))
	}
	return shape, nil
}

// NiceHashNonce keeps the pool's high byte from hint and the device's low
// 24 bits from start.
func NiceHashNonce(start, hint uint32) uint32 {
	return (start & 0x00FFFFFF) | (hint & 0xFF000000)
}
