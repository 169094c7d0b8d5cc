package gpu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"argon-gpu-miner/argon"
	"argon-gpu-miner/pool"
	"argon-gpu-miner/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver records what the workers do with their devices and can be told
// to fail a device on a given batch.
type fakeDriver struct {
	mu sync.Mutex

	events  []string
	allocs  map[int]int
	frees   map[int]int
	loads   map[int][]KernelJob
	runs    map[int][]uint32
	batches map[int]int

	faultOn   map[int]int // device id -> 1 based batch that fails
	panicFree bool
	succeed   bool

	// one shot gates holding a device inside its next Allocate or Run
	allocGate map[int]chan struct{}
	runGate   map[int]chan struct{}
	parked    map[int]bool

	// nonces hashed per job target and device
	hashed map[uint64]map[int][]uint32
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		allocs:  make(map[int]int),
		frees:   make(map[int]int),
		loads:   make(map[int][]KernelJob),
		runs:    make(map[int][]uint32),
		batches: make(map[int]int),
		faultOn: make(map[int]int),

		allocGate: make(map[int]chan struct{}),
		runGate:   make(map[int]chan struct{}),
		parked:    make(map[int]bool),
		hashed:    make(map[uint64]map[int][]uint32),
	}
}

// hold makes device id block in its next call guarded by gates until the
// returned channel is closed.
func (f *fakeDriver) hold(gates map[int]chan struct{}, id int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	gate := make(chan struct{})
	gates[id] = gate
	return gate
}

func (f *fakeDriver) wait(gates map[int]chan struct{}, id int) {
	f.mu.Lock()
	gate := gates[id]
	delete(gates, id)
	if gate != nil {
		f.parked[id] = true
	}
	f.mu.Unlock()

	if gate == nil {
		return
	}
	<-gate

	f.mu.Lock()
	f.parked[id] = false
	f.mu.Unlock()
}

func (f *fakeDriver) isParked(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parked[id]
}

func (f *fakeDriver) hashedFor(target uint64, id int) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.hashed[target][id]...)
}

func (f *fakeDriver) Allocate(d Device, shape argon.Descriptor, launch LaunchParams) (Kernel, error) {
	f.wait(f.allocGate, d.ID)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.allocs[d.ID]++
	f.events = append(f.events, fmt.Sprintf("alloc %d %s", d.ID, shape.Variant))
	return &fakeKernel{driver: f, id: d.ID, lanes: launch.NoncesPerRun}, nil
}

func (f *fakeDriver) count(m map[int]int, id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[id]
}

func (f *fakeDriver) loadsOf(id int) []KernelJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]KernelJob(nil), f.loads[id]...)
}

func (f *fakeDriver) runsOf(id int) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.runs[id]...)
}

func (f *fakeDriver) eventsOf(id int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, e := range f.events {
		if strings.Fields(e)[1] == strconv.Itoa(id) {
			out = append(out, e)
		}
	}
	return out
}

type fakeKernel struct {
	driver *fakeDriver
	id     int
	lanes  uint32
	job    KernelJob
}

func (k *fakeKernel) Load(job KernelJob) error {
	k.driver.mu.Lock()
	defer k.driver.mu.Unlock()

	k.job = job
	k.driver.loads[k.id] = append(k.driver.loads[k.id], job)
	return nil
}

func (k *fakeKernel) Run(startNonce uint32) (HashResult, error) {
	time.Sleep(100 * time.Microsecond)
	k.driver.wait(k.driver.runGate, k.id)

	k.driver.mu.Lock()
	defer k.driver.mu.Unlock()

	k.driver.batches[k.id]++
	if k.driver.batches[k.id] == k.driver.faultOn[k.id] {
		return HashResult{}, errors.New("cudaErrorLaunchFailure")
	}

	k.driver.runs[k.id] = append(k.driver.runs[k.id], startNonce)

	byDevice := k.driver.hashed[k.job.Target]
	if byDevice == nil {
		byDevice = make(map[int][]uint32)
		k.driver.hashed[k.job.Target] = byDevice
	}
	for i := uint32(0); i < k.lanes; i++ {
		byDevice[k.id] = append(byDevice[k.id], startNonce+i)
	}
	return HashResult{Success: k.driver.succeed, Nonce: startNonce}, nil
}

func (k *fakeKernel) Free() error {
	k.driver.mu.Lock()
	defer k.driver.mu.Unlock()

	if k.driver.panicFree {
		panic("free after device loss")
	}

	k.driver.frees[k.id]++
	k.driver.events = append(k.driver.events, fmt.Sprintf("free %d", k.id))
	return nil
}

// recorder implements both miner callbacks.
type recorder struct {
	mu      sync.Mutex
	hashes  map[string]uint64
	calls   map[string]int
	submits []pool.JobSubmit
}

func newRecorder() *recorder {
	return &recorder{hashes: make(map[string]uint64), calls: make(map[string]int)}
}

func (r *recorder) submit(s pool.JobSubmit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submits = append(r.submits, s)
}

func (r *recorder) increment(n uint32, device string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes[device] += uint64(n)
	r.calls[device]++
}

func (r *recorder) callsOf(device string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[device]
}

func (r *recorder) submitted() []pool.JobSubmit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pool.JobSubmit(nil), r.submits...)
}

func testJob(id, algorithm string) pool.Job {
	blob := make([]byte, 76)
	for i := range blob {
		blob[i] = byte(i + 1)
	}
	util.SetBlobNonce(blob, 0xAB000000)

	return pool.Job{
		JobID:           id,
		RawBlob:         blob,
		ShareDifficulty: 5000,
		Algorithm:       algorithm,
	}
}

func newTestMiner(t *testing.T, devices []Device) (*Miner, *fakeDriver, *recorder) {
	hw, err := NewHardwareConfig(devices)
	require.NoError(t, err)

	driver := newFakeDriver()
	rec := newRecorder()
	return NewMiner(hw, driver, rec.submit, rec.increment), driver, rec
}

func twoDevices() []Device {
	return []Device{
		{ID: 0, Name: "gpu", Enabled: true, MemoryMiB: 4, MaxNonces: 4},
		{ID: 1, Name: "gpu", Enabled: true, MemoryMiB: 4, MaxNonces: 2},
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, time.Millisecond, msg)
}

func TestStopWithoutStart(t *testing.T) {
	m, _, _ := newTestMiner(t, twoDevices())

	m.Stop()
	m.Stop()
}

func TestStartSkipsDisabledDevices(t *testing.T) {
	devices := append(twoDevices(), Device{ID: 7, Name: "off", Enabled: false, MemoryMiB: 4})
	m, driver, rec := newTestMiner(t, devices)

	require.NoError(t, m.Start(testJob("a", "chukwa"), 0))

	eventually(t, func() bool {
		return rec.callsOf("gpu-0") > 3 && rec.callsOf("gpu-1") > 3
	}, "both enabled devices hash")

	m.Stop()

	assert.Len(t, m.Devices(), 2)
	assert.Equal(t, 0, rec.callsOf("off-7"))
	assert.Equal(t, 0, driver.count(driver.allocs, 7))

	for _, id := range []int{0, 1} {
		assert.Equal(t, 1, driver.count(driver.allocs, id))
		assert.Equal(t, 1, driver.count(driver.frees, id), "state freed on stop")
	}

	rec.mu.Lock()
	assert.Equal(t, uint64(rec.calls["gpu-0"])*4, rec.hashes["gpu-0"])
	assert.Equal(t, uint64(rec.calls["gpu-1"])*2, rec.hashes["gpu-1"])
	rec.mu.Unlock()
}

func TestWorkersAdvanceByNoncesPerRound(t *testing.T) {
	m, driver, rec := newTestMiner(t, twoDevices())
	driver.succeed = true

	require.NoError(t, m.Start(testJob("a", "chukwa"), 1000))

	eventually(t, func() bool {
		return len(driver.runsOf(0)) > 5 && len(driver.runsOf(1)) > 5
	}, "devices hash several batches")

	m.Stop()

	// gpu-0 runs 4 nonces from offset 0, gpu-1 runs 2 from offset 4
	for i, start := range driver.runsOf(0) {
		assert.Equal(t, uint32(1000+6*i), start)
	}
	for i, start := range driver.runsOf(1) {
		assert.Equal(t, uint32(1004+6*i), start)
	}

	subs := rec.submitted()
	require.NotEmpty(t, subs)
	for _, s := range subs {
		assert.Equal(t, "a", s.JobID)
		assert.Equal(t, uint64(5000), s.Target)
		assert.Contains(t, []string{"gpu-0", "gpu-1"}, s.DeviceName)
	}
}

func TestNiceHashStartNonce(t *testing.T) {
	m, driver, _ := newTestMiner(t, []Device{{ID: 0, Name: "gpu", Enabled: true, MemoryMiB: 4, MaxNonces: 4}})

	job := testJob("nh", "chukwa")
	job.IsNiceHash = true

	require.NoError(t, m.Start(job, 0x12345678))
	eventually(t, func() bool { return len(driver.runsOf(0)) > 0 }, "device hashes")
	m.Stop()

	assert.Equal(t, uint32(0xAB345678), driver.runsOf(0)[0])

	loads := driver.loadsOf(0)
	require.Len(t, loads, 1)
	assert.Equal(t, uint32(0xAB345678), loads[0].StartNonce)
	assert.True(t, loads[0].IsNiceHash)
	assert.Equal(t, job.RawBlob[:argon.SALT_LENGTH], loads[0].Salt)
}

func TestNiceHashKeepsPoolByteOnWrap(t *testing.T) {
	m, driver, _ := newTestMiner(t, []Device{{ID: 0, Name: "gpu", Enabled: true, MemoryMiB: 4, MaxNonces: 4}})

	job := testJob("nh", "chukwa")
	job.IsNiceHash = true

	require.NoError(t, m.Start(job, 0x00FFFFF8))
	eventually(t, func() bool { return len(driver.runsOf(0)) >= 4 }, "device hashes past the wrap")
	m.Stop()

	assert.Equal(t, []uint32{0xABFFFFF8, 0xABFFFFFC, 0xAB000000, 0xAB000004}, driver.runsOf(0)[:4])
}

func TestSetNewJobKeepsStateForSameAlgorithm(t *testing.T) {
	m, driver, _ := newTestMiner(t, twoDevices())

	require.NoError(t, m.Start(testJob("a", "chukwa"), 0))
	eventually(t, func() bool { return len(driver.runsOf(0)) > 0 && len(driver.runsOf(1)) > 0 }, "first job runs")

	// an alias of the same variant is the same memory shape
	require.NoError(t, m.SetNewJob(testJob("b", "trtl"), 500))

	eventually(t, func() bool {
		l0, l1 := driver.loadsOf(0), driver.loadsOf(1)
		return len(l0) == 2 && len(l1) == 2
	}, "workers reload the job")

	assert.Equal(t, uint32(500), driver.loadsOf(0)[1].StartNonce)
	assert.Equal(t, uint32(504), driver.loadsOf(1)[1].StartNonce)

	assert.Equal(t, 1, driver.count(driver.allocs, 0))
	assert.Equal(t, 1, driver.count(driver.allocs, 1))
	assert.Equal(t, 0, driver.count(driver.frees, 0))

	m.Stop()
}

func TestSetNewJobReallocatesOnAlgorithmChange(t *testing.T) {
	m, driver, _ := newTestMiner(t, twoDevices())

	require.NoError(t, m.Start(testJob("a", "chukwa"), 0))
	eventually(t, func() bool { return len(driver.runsOf(0)) > 0 && len(driver.runsOf(1)) > 0 }, "first job runs")

	require.NoError(t, m.SetNewJob(testJob("b", "chukwa_wrkz"), 0))

	eventually(t, func() bool {
		return driver.count(driver.allocs, 0) == 2 && driver.count(driver.allocs, 1) == 2
	}, "workers reallocate")

	for _, id := range []int{0, 1} {
		assert.Equal(t, []string{
			fmt.Sprintf("alloc %d chukwa", id),
			fmt.Sprintf("free %d", id),
			fmt.Sprintf("alloc %d chukwa_wrkz", id),
		}, driver.eventsOf(id))
	}

	m.Stop()

	assert.Equal(t, 2, driver.count(driver.frees, 0))
	assert.Equal(t, 2, driver.count(driver.frees, 1))
}

// One device is held while it reallocates for a short-lived job of the
// other shape; its sibling picks up the next job meanwhile. Both must
// still split that job's nonces between them.
func TestAlgorithmFlipKeepsNonceRangesDisjoint(t *testing.T) {
	m, driver, _ := newTestMiner(t, []Device{
		{ID: 0, Name: "gpu", Enabled: true, MemoryMiB: 1},
		{ID: 1, Name: "gpu", Enabled: true, MemoryMiB: 1},
	})

	j1 := testJob("j1", "chukwa")
	j1.ShareDifficulty = 1
	j2 := testJob("j2", "chukwa_wrkz")
	j2.ShareDifficulty = 2
	j3 := testJob("j3", "chukwa")
	j3.ShareDifficulty = 3

	require.NoError(t, m.Start(j1, 0))
	eventually(t, func() bool { return len(driver.runsOf(0)) > 0 && len(driver.runsOf(1)) > 0 }, "first job runs")

	runGate := driver.hold(driver.runGate, 1)
	eventually(t, func() bool { return driver.isParked(1) }, "device 1 held in a batch")

	allocGate := driver.hold(driver.allocGate, 0)
	require.NoError(t, m.SetNewJob(j2, 0))
	eventually(t, func() bool { return driver.isParked(0) }, "device 0 held reallocating for j2")

	require.NoError(t, m.SetNewJob(j3, 0))
	close(runGate)
	eventually(t, func() bool { return len(driver.hashedFor(3, 1)) > 20 }, "device 1 hashes j3")

	close(allocGate)
	eventually(t, func() bool { return len(driver.hashedFor(3, 0)) > 20 }, "device 0 hashes j3")
	m.Stop()

	assert.Empty(t, driver.hashedFor(2, 1), "device 1 skipped j2")

	owner := make(map[uint32]bool)
	for _, n := range driver.hashedFor(3, 0) {
		owner[n] = true
	}
	for _, n := range driver.hashedFor(3, 1) {
		require.False(t, owner[n], "nonce %08x of j3 hashed by both devices", n)
	}

	// chukwa at 1 MiB: two nonces each, device 1 right after device 0
	assert.Equal(t, []uint32{0, 1, 4, 5}, driver.hashedFor(3, 0)[:4])
	assert.Equal(t, []uint32{2, 3, 6, 7}, driver.hashedFor(3, 1)[:4])
}

func TestStartWhileRunningRestarts(t *testing.T) {
	m, driver, _ := newTestMiner(t, twoDevices())

	require.NoError(t, m.Start(testJob("a", "chukwa"), 0))
	eventually(t, func() bool { return len(driver.runsOf(0)) > 0 && len(driver.runsOf(1)) > 0 }, "first session runs")

	require.NoError(t, m.Start(testJob("b", "chukwa"), 0))

	// the first session's state is freed before the second allocates
	assert.Equal(t, 1, driver.count(driver.frees, 0))
	assert.Equal(t, 1, driver.count(driver.frees, 1))

	eventually(t, func() bool {
		return driver.count(driver.allocs, 0) == 2 && driver.count(driver.allocs, 1) == 2
	}, "second session allocates fresh state")

	m.Stop()

	assert.Equal(t, 2, driver.count(driver.frees, 0))
	assert.Equal(t, 2, driver.count(driver.frees, 1))
}

func TestDeviceFaultStopsOnlyThatDevice(t *testing.T) {
	for _, panicFree := range []bool{false, true} {
		m, driver, rec := newTestMiner(t, twoDevices())
		driver.faultOn[1] = 3
		driver.panicFree = panicFree

		require.NoError(t, m.Start(testJob("a", "chukwa"), 0))

		eventually(t, func() bool {
			_, faulted := m.Faulted()["gpu-1"]
			return faulted
		}, "device 1 faults")

		before := rec.callsOf("gpu-0")
		eventually(t, func() bool { return rec.callsOf("gpu-0") > before+5 }, "sibling keeps hashing")

		assert.Equal(t, 2, rec.callsOf("gpu-1"))
		assert.Len(t, driver.runsOf(1), 2)
		assert.Len(t, m.Faulted(), 1)
		assert.EqualError(t, m.Faulted()["gpu-1"], "cudaErrorLaunchFailure")

		// new jobs do not bring it back
		require.NoError(t, m.SetNewJob(testJob("b", "chukwa"), 0))
		eventually(t, func() bool { return len(driver.loadsOf(0)) == 2 }, "sibling takes the new job")
		assert.Len(t, driver.loadsOf(1), 1)

		driver.mu.Lock()
		driver.panicFree = false
		driver.mu.Unlock()

		m.Stop()
		assert.Equal(t, 2, rec.callsOf("gpu-1"))

		// a new session does
		require.NoError(t, m.Start(testJob("c", "chukwa"), 0))
		assert.Empty(t, m.Faulted())
		eventually(t, func() bool { return rec.callsOf("gpu-1") > 2 }, "restarted device hashes")
		m.Stop()
	}
}

func TestUnknownAlgorithmIsRejected(t *testing.T) {
	m, driver, _ := newTestMiner(t, twoDevices())

	err := m.Start(testJob("a", "cryptonight"), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, argon.ErrUnknownAlgorithm))
	assert.Equal(t, 0, driver.count(driver.allocs, 0))

	require.NoError(t, m.Start(testJob("a", "chukwa"), 0))
	err = m.SetNewJob(testJob("b", "nope"), 0)
	assert.True(t, errors.Is(err, argon.ErrUnknownAlgorithm))

	short := testJob("c", "chukwa")
	short.RawBlob = short.RawBlob[:20]
	assert.Error(t, m.SetNewJob(short, 0))

	m.Stop()

	for _, l := range driver.loadsOf(0) {
		assert.Equal(t, uint64(5000), l.Target)
	}
}
