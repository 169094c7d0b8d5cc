package pool

import (
	"encoding/hex"

	"argon-gpu-miner/util"
)

// NewSubmitParams builds the params of a submit request for share s, sent on
// behalf of the session loginID.
func NewSubmitParams(loginID string, s JobSubmit) SubmitParams {
	return SubmitParams{
		ID:     loginID,
		JobID:  s.JobID,
		Nonce:  util.NonceHex(s.Nonce),
		Result: hex.EncodeToString(s.Hash[:]),
	}
}

