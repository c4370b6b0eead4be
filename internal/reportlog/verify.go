package reportlog

import (
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of walking a log's hash chain. Head is the
// hash of the last intact line, which an external anchor can pin.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Head      string `json:"head,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify checks that every line of the log at path names the hash of the
// line before it, starting from GenesisHash. It stops at the first break.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	res := VerifyResult{Head: GenesisHash}
	fail := func(format string, args ...any) VerifyResult {
		res.Error = fmt.Sprintf(format, args...)
		res.ErrorLine = res.Lines + 1
		return res
	}

	sc := newScanner(f)
	for sc.Scan() {
		var link struct {
			PrevHash *string `json:"prev_hash"`
		}
		if err := json.Unmarshal(sc.Bytes(), &link); err != nil {
			return fail("parse error: %v", err)
		}
		switch {
		case link.PrevHash == nil:
			return fail("entry has no prev_hash")
		case *link.PrevHash != res.Head && res.Lines == 0:
			return fail("first entry prev_hash is %q, expected genesis hash", *link.PrevHash)
		case *link.PrevHash != res.Head:
			return fail("hash mismatch: expected %s, got %s", res.Head, *link.PrevHash)
		}
		res.Head = HashLine(sc.Bytes())
		res.Lines++
	}
	if err := sc.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}
	res.Valid = true
	return res
}
