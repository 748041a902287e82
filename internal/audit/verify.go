package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// VerifyResult holds the outcome of a chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

var errStop = errors.New("stop")

// eachLine calls fn for every non-empty line of r with its 1-based line
// number. Lines have no length limit and are passed without the newline.
func eachLine(r io.Reader, fn func(lineNum int, line []byte) error) error {
	br := bufio.NewReader(r)
	lineNum := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNum++
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > 0 {
				if ferr := fn(lineNum, line); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Verify walks the ledger at path and reports the first broken link. Empty
// lines are skipped, as they are when the chain is resumed.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	records := 0
	expected := GenesisHash
	var res VerifyResult

	err = eachLine(f, func(lineNum int, line []byte) error {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			res = VerifyResult{Lines: records, Error: fmt.Sprintf("parse error: %v", err), ErrorLine: lineNum}
			return errStop
		}
		if rec.PrevHash != expected {
			res = VerifyResult{
				Lines:     records,
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", expected, rec.PrevHash),
				ErrorLine: lineNum,
			}
			return errStop
		}
		expected = HashLine(line)
		records++
		return nil
	})
	switch {
	case errors.Is(err, errStop):
		return res
	case err != nil:
		return VerifyResult{Lines: records, Error: fmt.Sprintf("read: %v", err)}
	}

	return VerifyResult{Valid: true, Lines: records}
}

// Read returns every well-formed record in the ledger. A missing file reads
// as empty.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	err = eachLine(f, func(_ int, line []byte) error {
		var rec Record
		if json.Unmarshal(line, &rec) == nil {
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}
