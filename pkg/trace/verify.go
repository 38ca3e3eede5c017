package trace

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount     int
	Valid          bool
	BrokenAt       int // -1 if no break
	SignatureOK    bool
	SignatureNoKey bool // signature present but no key to verify
	SigningKeyID   string
	ChainHash      string
	Error          string
}

// VerifyFile verifies the hash chain and optional signature of a trace file.
func VerifyFile(path string, key []byte) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f, key)
}

// Verify checks hash chain integrity and, when key is set, the HMAC
// signature carried by run_complete.
func Verify(r io.Reader, key []byte) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB max line

	expectedPrevHash := Genesis
	count := 0
	var lastEvent Event
	var lastPrev string

	broken := func(format string, args ...any) *VerifyResult {
		return &VerifyResult{EventCount: count, BrokenAt: count, Error: fmt.Sprintf(format, args...)}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return broken("event %d: invalid JSON: %v", count, err), nil
		}
		if evt.PrevHash != expectedPrevHash {
			return broken("event %d: prev_hash mismatch (expected %s, got %s)", count, short(expectedPrevHash), short(evt.PrevHash)), nil
		}

		h := sha256.Sum256(line)
		lastPrev = expectedPrevHash
		expectedPrevHash = hex.EncodeToString(h[:])
		lastEvent = evt
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	result := &VerifyResult{EventCount: count, Valid: true, BrokenAt: -1}
	if lastEvent.Type != EventRunComplete || lastEvent.Data == nil {
		return result, nil
	}

	chainHash, _ := lastEvent.Data["chain_hash"].(string)
	result.ChainHash = chainHash
	if chainHash != lastPrev {
		result.Valid = false
		result.BrokenAt = count
		result.Error = "run_complete chain_hash does not match the chain"
		return result, nil
	}
	if sig, ok := lastEvent.Data["signature"].(string); ok {
		result.SigningKeyID, _ = lastEvent.Data["signing_key_id"].(string)
		if len(key) == 0 {
			result.SignatureNoKey = true
		} else {
			result.SignatureOK = hmac.Equal([]byte(sig), []byte(sign(key, chainHash)))
		}
	}
	return result, nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
