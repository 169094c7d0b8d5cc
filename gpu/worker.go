package gpu

import (
	"sync/atomic"

	"argon-gpu-miner/argon"
	"argon-gpu-miner/log"
	"argon-gpu-miner/pool"
)

// hash is the worker loop of one device. It (re)loads the algorithm whenever
// the job's memory shape changes, hashes until told about a new job, and
// exits for good on the first device fault.
//
// TODO: a faulted device is only visible through Faulted(); decide whether
// the miner should respawn it or report it to the pool layer.
func (m *Miner) hash(d Device, newJob *atomic.Bool) {
	defer m.wg.Done()

	label := Label(d)
	logger := log.Tagged(label)

	var state *DeviceState

	for !m.shouldStop.Load() {
		w := m.current.Load()
		job := w.job

		algorithm, err := NewAlgorithm(job.Algorithm)
		if err != nil {
			// jobs are validated before they are published
			m.fault(logger, label, state, err)
			return
		}

		// always the split for this job's own shape
		launch, noncesPerRound := m.hw.Partition(d.ID, algorithm.MemoryKiB)

		if state == nil || state.Shape != algorithm.Descriptor || state.Launch != launch {
			if err := state.Free(); err != nil {
				logger.Warnf("Failed to free device state: %v", err)
			}
			state = nil

			state, err = newDeviceState(m.driver, d, algorithm.Descriptor, launch)
			if err != nil {
				m.fault(logger, label, nil, err)
				return
			}

			logger.Infof("Loaded %s: %d KiB x %d nonces per run", algorithm.Variant, algorithm.MemoryKiB, launch.NoncesPerRun)
		}

		salt := job.RawBlob[:argon.SALT_LENGTH]

		hint := job.Nonce()
		startNonce := w.nonce + launch.NonceOffset
		if job.IsNiceHash {
			startNonce = NiceHashNonce(startNonce, hint)
		}

		state.InitJob(job.RawBlob, salt, startNonce, job.ShareDifficulty, job.IsNiceHash)

		if err := algorithm.Init(state); err != nil {
			m.fault(logger, label, state, err)
			return
		}

		logger.Debugf("Hashing job %s from nonce %08x", job.JobID, startNonce)

		for !newJob.Load() && !m.shouldStop.Load() {
			result, err := algorithm.Hash(startNonce)
			if err != nil {
				m.fault(logger, label, state, err)
				return
			}

			m.incrementHashesPerformed(state.Launch.NoncesPerRun, label)

			if result.Success {
				m.submitValidHash(pool.JobSubmit{
					Hash:       result.Hash,
					JobID:      job.JobID,
					Nonce:      result.Nonce,
					Target:     job.ShareDifficulty,
					DeviceName: label,
				})
			}

			startNonce += noncesPerRound
			if job.IsNiceHash {
				// the high byte belongs to the pool
				startNonce = NiceHashNonce(startNonce, hint)
			}
		}

		newJob.Store(false)
	}

	if err := state.Free(); err != nil {
		logger.Warnf("Failed to free device state: %v", err)
	}
	logger.Info("Stopped")
}

// fault ends a worker: the error is logged, the device state freed on a best
// effort basis and the device recorded as faulted.
func (m *Miner) fault(logger log.Tagged, label string, state *DeviceState, err error) {
	logger.Warnf("Caught unexpected error from device hasher: %v", err)

	func() {
		// freeing usually fails too after a driver error
		defer func() { recover() }()
		state.Free()
	}()

	m.faulted.Store(label, err)
}
