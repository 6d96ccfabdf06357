package sift

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// A Reader streams detection records from CSV measurement logs. The header
// row names the columns; matching_basis, tx_state, and rx_state are
// required, qubit_id and decoy_level are optional. Rows arrive in chunks so
// a multi-gigabyte log never has to fit in memory.
type Reader struct {
	csv  *csv.Reader
	cols columns
	row  uint64
}

type columns struct {
	qubitID       int
	matchingBasis int
	txState       int
	rxState       int
	decoyLevel    int
}

// NewReader wraps r and consumes its header row.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("sift: reading header: %w", err)
	}
	cols := columns{qubitID: -1, matchingBasis: -1, txState: -1, rxState: -1, decoyLevel: -1}
	for i, name := range header {
		switch name {
		case "qubit_id":
			cols.qubitID = i
		case "matching_basis":
			cols.matchingBasis = i
		case "tx_state":
			cols.txState = i
		case "rx_state":
			cols.rxState = i
		case "decoy_level":
			cols.decoyLevel = i
		}
	}
	if cols.matchingBasis < 0 || cols.txState < 0 || cols.rxState < 0 {
		return nil, errors.New("sift: header must name matching_basis, tx_state and rx_state columns")
	}
	return &Reader{csv: cr, cols: cols}, nil
}

// ReadChunk reads up to n records, fewer only at end of input. It returns
// io.EOF alongside the final partial chunk once the log is exhausted.
func (r *Reader) ReadChunk(n int) ([]Record, error) {
	records := make([]Record, 0, n)
	for len(records) < n {
		row, err := r.csv.Read()
		if err == io.EOF {
			return records, io.EOF
		}
		if err != nil {
			return records, fmt.Errorf("sift: %w", err)
		}
		r.row++
		rec, err := r.parse(row)
		if err != nil {
			return records, fmt.Errorf("sift: row %d: %w", r.row, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *Reader) parse(row []string) (Record, error) {
	var rec Record
	if r.cols.qubitID >= 0 {
		id, err := strconv.ParseUint(row[r.cols.qubitID], 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("qubit_id: %w", err)
		}
		rec.QubitID = id
	} else {
		rec.QubitID = r.row - 1
	}
	matching, err := parseBit(row[r.cols.matchingBasis])
	if err != nil {
		return Record{}, fmt.Errorf("matching_basis: %w", err)
	}
	rec.MatchingBasis = matching != 0
	tx, err := parseBit(row[r.cols.txState])
	if err != nil {
		return Record{}, fmt.Errorf("tx_state: %w", err)
	}
	rec.TxState = tx
	rx, err := parseBit(row[r.cols.rxState])
	if err != nil {
		return Record{}, fmt.Errorf("rx_state: %w", err)
	}
	rec.RxState = rx
	if r.cols.decoyLevel >= 0 {
		level, err := strconv.Atoi(row[r.cols.decoyLevel])
		if err != nil {
			return Record{}, fmt.Errorf("decoy_level: %w", err)
		}
		rec.DecoyLevel = level
	}
	return rec, nil
}

func parseBit(s string) (byte, error) {
	switch s {
	case "0", "false":
		return 0, nil
	case "1", "true":
		return 1, nil
	default:
		return 0, fmt.Errorf("%q is not a bit", s)
	}
}
