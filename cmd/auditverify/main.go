// Command auditverify recomputes the hash chain of JSONL audit segments
// without the server. It exits 0 when the chain is intact, 1 when any link
// mismatches and 2 when the segments cannot be read.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"trustcore/internal/audit"
	"trustcore/internal/audit/store/jsonl"
)

func main() {
	dir := flag.String("dir", "./data/audit", "directory holding audit-*.jsonl segments")
	flag.Parse()

	report, err := verifyDir(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "auditverify:", err)
		os.Exit(2)
	}
	if err := writeReport(os.Stdout, report); err != nil {
		fmt.Fprintln(os.Stderr, "auditverify:", err)
		os.Exit(2)
	}
	if !report.Valid {
		os.Exit(1)
	}
}

// verifyDir walks every segment in order starting from genesis.
func verifyDir(dir string) (audit.VerifyReport, error) {
	segments, err := jsonl.Segments(dir)
	if err != nil {
		return audit.VerifyReport{}, err
	}
	v := audit.NewChainVerifier(0, audit.GenesisHash)
	var end uint64
	for _, path := range segments {
		events, err := jsonl.ReadSegment(path)
		if err != nil {
			return audit.VerifyReport{}, err
		}
		for _, e := range events {
			v.Check(e)
			end = max(end, e.SequenceNumber+1)
		}
	}
	return v.Finish(end), nil
}

func writeReport(w io.Writer, report audit.VerifyReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
