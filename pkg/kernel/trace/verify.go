package trace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount int    `json:"event_count"`
	Valid      bool   `json:"valid"`
	BrokenAt   int    `json:"broken_at"` // -1 if no break
	ChainHash  string `json:"chain_hash,omitempty"`
	Status     string `json:"status,omitempty"` // from run_complete, if present
	Error      string `json:"error,omitempty"`
}

// VerifyFile verifies the hash chain of a trace file.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify checks that every event's prev_hash is the SHA-256 of the line
// before it, and that run_complete's chain_hash agrees with the chain.
func Verify(r io.Reader) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB max line

	expected := Genesis
	count := 0
	res := &VerifyResult{BrokenAt: -1}

	broken := func(msg string, args ...any) *VerifyResult {
		res.EventCount = count
		res.BrokenAt = count
		res.Error = fmt.Sprintf("event %d: ", count) + fmt.Sprintf(msg, args...)
		return res
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return broken("invalid JSON: %v", err), nil
		}
		if evt.PrevHash != expected {
			return broken("prev_hash mismatch (expected %s, got %s)", short(expected), short(evt.PrevHash)), nil
		}
		if evt.Type == EventRunComplete {
			if ch, _ := evt.Data["chain_hash"].(string); ch != "" && ch != evt.PrevHash {
				return broken("chain_hash does not match chain"), nil
			}
			res.Status, _ = evt.Data["status"].(string)
		}

		sum := sha256.Sum256(line)
		expected = hex.EncodeToString(sum[:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	res.EventCount = count
	res.Valid = true
	res.ChainHash = expected
	return res, nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
