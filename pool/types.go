// Package pool holds the pool protocol message model: the jobs a pool hands
// out, the envelopes its responses arrive in and the shares sent back.
package pool

import (
	"strconv"

	"argon-gpu-miner/util"
)

// PoolError is the error object of a JSON-RPC response.
type PoolError struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func (e *PoolError) Error() string {
	return "pool error " + strconv.FormatInt(int64(e.Code), 10) + ": " + e.Message
}

// Job is a snapshot of work handed out by the pool. It is passed by value and
// must be treated as immutable; RawBlob in particular is shared between copies.
type Job struct {
	Blob    string `json:"blob"`
	RawBlob []byte `json:"-"`
	JobID   string `json:"job_id"`

	// Target is the hex string as received, ShareDifficulty its parsed value.
	Target          string `json:"target"`
	ShareDifficulty uint64 `json:"-"`

	Algorithm  string `json:"algo,omitempty"`
	IsNiceHash bool   `json:"-"`

	// Only set for pools that send them.
	Height            *uint64 `json:"height,omitempty"`
	BlockMajorVersion *uint8  `json:"blockMajorVersion,omitempty"`
	BlockMinorVersion *uint8  `json:"blockMinorVersion,omitempty"`
	RootMajorVersion  *uint8  `json:"rootMajorVersion,omitempty"`
	RootMinorVersion  *uint8  `json:"rootMinorVersion,omitempty"`
}

// Nonce returns the nonce embedded in the blob. With NiceHash its high byte is
// owned by the pool.
func (j Job) Nonce() uint32 {
	n, _ := util.BlobNonce(j.RawBlob)
	return n
}

// WithPool returns a copy of j tagged with the pool's algorithm and NiceHash
// setting. A job that already carries an algorithm from the pool keeps it.
func (j Job) WithPool(algorithm string, niceHash bool) Job {
	if j.Algorithm == "" {
		j.Algorithm = algorithm
	}
	j.IsNiceHash = niceHash
	return j
}

// Payload is the success part of a response. It is nil whenever Error is set.
type Payload interface {
	payload()
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	LoginID string `json:"id"`
	Status  string `json:"status"`
	Job     Job    `json:"job"`
}

// StatusResult is the payload of a successful submit or keepalive.
type StatusResult struct {
	Status string `json:"status"`
}

func (LoginResult) payload()  {}
func (StatusResult) payload() {}

// PoolMessage is the envelope every pool response is decoded into.
type PoolMessage struct {
	ID      string
	JSONRPC string
	Error   *PoolError
	Result  Payload
}

// LoginMessage is a PoolMessage whose Result, if any, is a LoginResult.
type LoginMessage = PoolMessage

// Login returns the login payload, if the message carries one.
func (m PoolMessage) Login() (LoginResult, bool) {
	l, ok := m.Result.(LoginResult)
	return l, ok
}

// JobSubmit is a share found by a device, ready to go to the pool.
type JobSubmit struct {
	Hash       [32]byte
	JobID      string
	Nonce      uint32
	Target     uint64
	DeviceName string
}

// SubmitParams are the params of a "submit" request.
type SubmitParams struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Nonce  string `json:"nonce"`
	Result string `json:"result"`
}
