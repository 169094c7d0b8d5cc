package main

import (
	"encoding/json"

	"argon-gpu-miner/argon"
	"argon-gpu-miner/log"
	"argon-gpu-miner/pool"
	"argon-gpu-miner/util"
)

// localPool stands in for the network layer when no pool transport is wired:
// it drains the share queue and judges each share itself.
type localPool struct {
	loginID string
	jobs    map[string]pool.Job
}

func newLocalPool(loginID string, jobs ...pool.Job) *localPool {
	lp := &localPool{loginID: loginID, jobs: make(map[string]pool.Job, len(jobs))}
	for _, j := range jobs {
		lp.jobs[j.JobID] = j
	}
	return lp
}

func (lp *localPool) serve(tracker *pool.ShareTracker) {
	for share := range tracker.Queue() {
		if log.LogLevel > 0 {
			params, _ := json.Marshal(pool.NewSubmitParams(lp.loginID, share.Submit))
			log.Debug("submit >>>", string(params))
		}

		tracker.Resolve(share.ID, lp.verify(share.Submit))
	}
}

// verify recomputes the share's hash the same way a pool would.
func (lp *localPool) verify(s pool.JobSubmit) pool.PoolMessage {
	reply := pool.PoolMessage{ID: s.JobID, JSONRPC: "2.0"}

	job, ok := lp.jobs[s.JobID]
	if !ok {
		reply.Error = &pool.PoolError{Code: -1, Message: "Unknown job"}
		return reply
	}

	shape, err := argon.Lookup(job.Algorithm)
	if err != nil {
		reply.Error = &pool.PoolError{Code: -1, Message: err.Error()}
		return reply
	}

	blob := append([]byte(nil), job.RawBlob...)
	if err := util.SetBlobNonce(blob, s.Nonce); err != nil {
		reply.Error = &pool.PoolError{Code: -1, Message: err.Error()}
		return reply
	}

	hash := shape.Sum(blob, blob[:argon.SALT_LENGTH])
	switch {
	case hash != s.Hash:
		reply.Error = &pool.PoolError{Code: -1, Message: "Invalid share"}
	case !argon.MeetsDifficulty(hash, job.ShareDifficulty):
		reply.Error = &pool.PoolError{Code: -1, Message: "Low difficulty share"}
	default:
		reply.Result = pool.StatusResult{Status: "OK"}
	}
	return reply
}
