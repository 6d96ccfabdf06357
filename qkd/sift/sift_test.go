package sift

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSift(t *testing.T) {
	records := []Record{
		{QubitID: 0, MatchingBasis: true, TxState: 1, RxState: 1},
		{QubitID: 1, MatchingBasis: false, TxState: 1, RxState: 0},
		{QubitID: 2, MatchingBasis: true, TxState: 0, RxState: 1},
		{QubitID: 3, MatchingBasis: true, TxState: 1, RxState: 1, DecoyLevel: 2},
		{QubitID: 4, MatchingBasis: true, TxState: 0, RxState: 0},
	}
	verifier, corrector := Sift(records)
	require.Equal(t, 3, verifier.Size())
	require.Equal(t, 3, corrector.Size())
	// Records 0, 2 and 4 survive: basis mismatches and decoy pulses drop.
	assert.True(t, verifier.Get(0))
	assert.True(t, corrector.Get(0))
	assert.False(t, verifier.Get(1))
	assert.True(t, corrector.Get(1))
	assert.False(t, verifier.Get(2))
	assert.False(t, corrector.Get(2))
}

func TestSiftEmpty(t *testing.T) {
	verifier, corrector := Sift(nil)
	assert.Equal(t, 0, verifier.Size())
	assert.Equal(t, 0, corrector.Size())
}

const sampleLog = `qubit_id,matching_basis,tx_state,rx_state,decoy_level
0,1,1,1,0
1,0,1,0,0
2,1,0,1,0
3,1,1,1,2
4,1,0,0,0
`

func TestReader(t *testing.T) {
	r, err := NewReader(strings.NewReader(sampleLog))
	require.NoError(t, err)
	records, err := r.ReadChunk(10)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, records, 5)
	assert.Equal(t, Record{QubitID: 0, MatchingBasis: true, TxState: 1, RxState: 1}, records[0])
	assert.Equal(t, Record{QubitID: 1, MatchingBasis: false, TxState: 1}, records[1])
	assert.Equal(t, Record{QubitID: 3, MatchingBasis: true, TxState: 1, RxState: 1, DecoyLevel: 2}, records[3])
}

func TestReaderChunking(t *testing.T) {
	r, err := NewReader(strings.NewReader(sampleLog))
	require.NoError(t, err)

	records, err := r.ReadChunk(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = r.ReadChunk(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = r.ReadChunk(2)
	require.ErrorIs(t, err, io.EOF)
	assert.Len(t, records, 1)
}

func TestReaderColumnOrderIrrelevant(t *testing.T) {
	log := "rx_state,tx_state,matching_basis\n1,0,1\n"
	r, err := NewReader(strings.NewReader(log))
	require.NoError(t, err)
	records, err := r.ReadChunk(5)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, records, 1)
	assert.Equal(t, Record{QubitID: 0, MatchingBasis: true, TxState: 0, RxState: 1}, records[0])
}

func TestReaderBooleanSpellings(t *testing.T) {
	log := "matching_basis,tx_state,rx_state\ntrue,1,false\n"
	r, err := NewReader(strings.NewReader(log))
	require.NoError(t, err)
	records, err := r.ReadChunk(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].MatchingBasis)
	assert.Equal(t, byte(1), records[0].TxState)
	assert.Equal(t, byte(0), records[0].RxState)
}

func TestReaderRejectsBadHeader(t *testing.T) {
	_, err := NewReader(strings.NewReader("qubit_id,tx_state,rx_state\n0,1,1\n"))
	assert.Error(t, err, "header without matching_basis was accepted")
}

func TestReaderRejectsBadRow(t *testing.T) {
	r, err := NewReader(strings.NewReader("matching_basis,tx_state,rx_state\n1,2,0\n"))
	require.NoError(t, err)
	_, err = r.ReadChunk(1)
	assert.Error(t, err, "tx_state of 2 was accepted")
}
