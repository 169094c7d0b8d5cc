package pool

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"argon-gpu-miner/util"
)

var (
	ErrMissingField   = errors.New("missing field")
	ErrMalformedField = errors.New("malformed field")
)

// Document is a generic decoded JSON object, as produced by ParseDocument.
type Document = map[string]any

// ParseDocument decodes one JSON object, keeping numbers as json.Number so
// 64 bit values survive.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrMalformedField)
	}
	return doc, nil
}

// ParseLoginMessage is DecodeLoginMessage on raw JSON.
func ParseLoginMessage(data []byte) (LoginMessage, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return LoginMessage{}, err
	}
	return DecodeLoginMessage(doc)
}

// ParseStatusMessage is DecodeStatusMessage on raw JSON.
func ParseStatusMessage(data []byte) (PoolMessage, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return PoolMessage{}, err
	}
	return DecodeStatusMessage(doc)
}

func DecodePoolError(doc Document) (*PoolError, error) {
	return decodePoolError(doc, "error")
}

func decodePoolError(doc Document, path string) (*PoolError, error) {
	code, ok, err := integer(doc, "code", path, math.MinInt32, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing(path, "code")
	}

	msg, err := requiredString(doc, "message", path)
	if err != nil {
		return nil, err
	}

	return &PoolError{Code: int32(code), Message: msg}, nil
}

// DecodeJob decodes a job object. The optional chain fields stay nil when the
// pool does not send them.
func DecodeJob(doc Document) (Job, error) {
	return decodeJob(doc, "job")
}

func decodeJob(doc Document, path string) (Job, error) {
	var job Job
	var err error

	if job.Blob, err = requiredString(doc, "blob", path); err != nil {
		return Job{}, err
	}
	if job.RawBlob, err = hex.DecodeString(job.Blob); err != nil {
		return Job{}, malformed(path, "blob", err)
	}
	if _, err = util.BlobNonce(job.RawBlob); err != nil {
		return Job{}, malformed(path, "blob", err)
	}

	if job.JobID, err = requiredString(doc, "job_id", path); err != nil {
		return Job{}, err
	}

	if job.Target, err = requiredString(doc, "target", path); err != nil {
		return Job{}, err
	}
	if job.ShareDifficulty, err = util.ParseHexUint64(job.Target); err != nil {
		return Job{}, malformed(path, "target", err)
	}

	if v, ok := doc["algo"]; ok && v != nil {
		algo, isStr := v.(string)
		if !isStr {
			return Job{}, malformed(path, "algo", errors.New("not a string"))
		}
		job.Algorithm = algo
	}

	if h, ok, err := integer(doc, "height", path, 0, math.MaxInt64); err != nil {
		return Job{}, err
	} else if ok {
		height := uint64(h)
		job.Height = &height
	}

	versions := []struct {
		key string
		dst **uint8
	}{
		{"blockMajorVersion", &job.BlockMajorVersion},
		{"blockMinorVersion", &job.BlockMinorVersion},
		{"rootMajorVersion", &job.RootMajorVersion},
		{"rootMinorVersion", &job.RootMinorVersion},
	}
	for _, v := range versions {
		n, ok, err := integer(doc, v.key, path, 0, math.MaxUint8)
		if err != nil {
			return Job{}, err
		}
		if ok {
			b := uint8(n)
			*v.dst = &b
		}
	}

	return job, nil
}

// DecodePoolMessage decodes the envelope only; Result stays nil.
func DecodePoolMessage(doc Document) (PoolMessage, error) {
	var msg PoolMessage
	var err error

	if msg.ID, err = identifier(doc, "id", ""); err != nil {
		return PoolMessage{}, err
	}
	if msg.JSONRPC, err = requiredString(doc, "jsonrpc", ""); err != nil {
		return PoolMessage{}, err
	}

	if v, ok := doc["error"]; ok && v != nil {
		obj, isObj := v.(map[string]any)
		if !isObj {
			return PoolMessage{}, malformed("", "error", errors.New("not an object"))
		}
		if msg.Error, err = decodePoolError(obj, "error"); err != nil {
			return PoolMessage{}, err
		}
	}

	return msg, nil
}

// DecodeLoginMessage decodes a login response. When the pool reports an error
// the result object is neither required nor read.
func DecodeLoginMessage(doc Document) (LoginMessage, error) {
	msg, err := DecodePoolMessage(doc)
	if err != nil || msg.Error != nil {
		return msg, err
	}

	result, err := requiredObject(doc, "result", "")
	if err != nil {
		return LoginMessage{}, err
	}

	var login LoginResult
	if login.LoginID, err = identifier(result, "id", "result"); err != nil {
		return LoginMessage{}, err
	}
	if login.Status, err = requiredString(result, "status", "result"); err != nil {
		return LoginMessage{}, err
	}

	jobDoc, err := requiredObject(result, "job", "result")
	if err != nil {
		return LoginMessage{}, err
	}
	if login.Job, err = decodeJob(jobDoc, "result.job"); err != nil {
		return LoginMessage{}, err
	}

	msg.Result = login
	return msg, nil
}

// DecodeStatusMessage decodes the reply to a submit.
func DecodeStatusMessage(doc Document) (PoolMessage, error) {
	msg, err := DecodePoolMessage(doc)
	if err != nil || msg.Error != nil {
		return msg, err
	}

	result, err := requiredObject(doc, "result", "")
	if err != nil {
		return PoolMessage{}, err
	}

	status, err := requiredString(result, "status", "result")
	if err != nil {
		return PoolMessage{}, err
	}

	msg.Result = StatusResult{Status: status}
	return msg, nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func missing(path, key string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, join(path, key))
}

func malformed(path, key string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedField, join(path, key), cause)
}

func requiredString(doc Document, key, path string) (string, error) {
	v, ok := doc[key]
	if !ok || v == nil {
		return "", missing(path, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed(path, key, fmt.Errorf("expected string, got %T", v))
	}
	return s, nil
}

func requiredObject(doc Document, key, path string) (Document, error) {
	v, ok := doc[key]
	if !ok || v == nil {
		return nil, missing(path, key)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, malformed(path, key, fmt.Errorf("expected object, got %T", v))
	}
	return obj, nil
}

// identifier accepts ids sent either as strings or as numbers.
func identifier(doc Document, key, path string) (string, error) {
	v, ok := doc[key]
	if !ok || v == nil {
		return "", missing(path, key)
	}
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		return id.String(), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	default:
		return "", malformed(path, key, fmt.Errorf("expected string or number, got %T", v))
	}
}

// integer reads an optional integral number within [min, max].
func integer(doc Document, key, path string, min, max int64) (int64, bool, error) {
	v, ok := doc[key]
	if !ok || v == nil {
		return 0, false, nil
	}

	var n int64
	switch num := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseInt(num.String(), 10, 64)
		if err != nil {
			return 0, false, malformed(path, key, err)
		}
		n = parsed
	case float64:
		if num != math.Trunc(num) || num < math.MinInt64 || num >= math.MaxInt64 {
			return 0, false, malformed(path, key, fmt.Errorf("%v is not an integer", num))
		}
		n = int64(num)
	case int:
		n = int64(num)
	case int64:
		n = num
	default:
		return 0, false, malformed(path, key, fmt.Errorf("expected number, got %T", v))
	}

	if n < min || n > max {
		return 0, false, malformed(path, key, fmt.Errorf("%d out of range", n))
	}
	return n, true, nil
}
