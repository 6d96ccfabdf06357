// Package wire carries the classical reconciliation channel between the two
// roles: the corrector dials a verifier that serves block-parity queries
// over its key.
//
// Wire format: every message is a 1-byte type followed by a 4-byte
// big-endian payload length and the payload itself.
//
//	+------+--------+----------+
//	| Type | Length | Payload  |
//	| 1B   | 4B BE  | Variable |
//	+------+--------+----------+
//
// AskParities payload: 4B block count, then per block an 8B shuffle
// identifier and 4B start and end indices. Parities payload: 4B bit count
// followed by the packed parity bits. Start/End payloads carry the
// length-prefixed algorithm name; error payloads carry a 1B code and a
// length-prefixed description.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/qkdlab/cascade/qkd"
	"github.com/qkdlab/cascade/qkd/bitmap"
)

const (
	headerSize = 5

	// maxMessageSize bounds a single payload; a full pass over even a
	// very large batch fits comfortably.
	maxMessageSize = 1 << 24
)

type msgType byte

const (
	typeStart msgType = iota + 1
	typeStartAck
	typeAskParities
	typeParities
	typeEnd
	typeEndAck
	typeError
)

// Error codes carried by typeError frames.
const (
	codeUnknownAlgorithm byte = iota + 1
	codeInvalidRange
	codeSessionClosed
	codeInternal
)

var errMalformed = fmt.Errorf("%w: malformed message", qkd.ErrChannelUnavailable)

func encodeHeader(t msgType, payloadLen int) []byte {
	buf := make([]byte, headerSize, headerSize+payloadLen)
	buf[0] = byte(t)
	binary.BigEndian.PutUint32(buf[1:], uint32(payloadLen))
	return buf
}

// encodeNamed builds a Start/End frame carrying the algorithm name.
func encodeNamed(t msgType, algorithm string) []byte {
	buf := encodeHeader(t, 1+len(algorithm))
	buf = append(buf, byte(len(algorithm)))
	return append(buf, algorithm...)
}

func decodeNamed(payload []byte) (string, error) {
	if len(payload) < 1 || len(payload) != 1+int(payload[0]) {
		return "", errMalformed
	}
	return string(payload[1:]), nil
}

func encodeAck(t msgType) []byte {
	return encodeHeader(t, 0)
}

func encodeAskParities(blocks []qkd.Block) []byte {
	buf := encodeHeader(typeAskParities, 4+16*len(blocks))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(blocks)))
	for _, b := range blocks {
		buf = binary.BigEndian.AppendUint64(buf, b.ShuffleID)
		buf = binary.BigEndian.AppendUint32(buf, uint32(b.Start))
		buf = binary.BigEndian.AppendUint32(buf, uint32(b.End))
	}
	return buf
}

func decodeAskParities(payload []byte) ([]qkd.Block, error) {
	if len(payload) < 4 {
		return nil, errMalformed
	}
	count := int(binary.BigEndian.Uint32(payload))
	if len(payload) != 4+16*count {
		return nil, errMalformed
	}
	blocks := make([]qkd.Block, count)
	off := 4
	for i := range blocks {
		blocks[i].ShuffleID = binary.BigEndian.Uint64(payload[off:])
		blocks[i].Start = int(binary.BigEndian.Uint32(payload[off+8:]))
		blocks[i].End = int(binary.BigEndian.Uint32(payload[off+12:]))
		off += 16
	}
	return blocks, nil
}

func encodeParities(parities bitmap.Dense) []byte {
	buf := encodeHeader(typeParities, 4+parities.SizeBytes())
	buf = binary.BigEndian.AppendUint32(buf, uint32(parities.Size()))
	return append(buf, parities.Data()...)
}

func decodeParities(payload []byte) (bitmap.Dense, error) {
	if len(payload) < 4 {
		return bitmap.Empty(), errMalformed
	}
	count := int(binary.BigEndian.Uint32(payload))
	if len(payload) != 4+bitmap.BytesFor(count) {
		return bitmap.Empty(), errMalformed
	}
	return bitmap.NewDense(payload[4:], count), nil
}

func encodeError(code byte, msg string) []byte {
	if len(msg) > 255 {
		msg = msg[:255]
	}
	buf := encodeHeader(typeError, 2+len(msg))
	buf = append(buf, code, byte(len(msg)))
	return append(buf, msg...)
}

// decodeError maps an error frame back to the sentinel the server reported.
func decodeError(payload []byte) error {
	if len(payload) < 2 || len(payload) != 2+int(payload[1]) {
		return errMalformed
	}
	msg := string(payload[2:])
	switch payload[0] {
	case codeUnknownAlgorithm:
		return fmt.Errorf("%w: %s", qkd.ErrUnknownAlgorithm, msg)
	case codeInvalidRange:
		return fmt.Errorf("%w: %s", qkd.ErrInvalidRange, msg)
	case codeSessionClosed:
		return fmt.Errorf("%w: %s", qkd.ErrSessionClosed, msg)
	default:
		return fmt.Errorf("channel: remote error: %s", msg)
	}
}

// readMessage reads one complete frame, returning its type and payload.
func readMessage(r io.Reader) (msgType, []byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	payloadLen := binary.BigEndian.Uint32(header[1:])
	if payloadLen > maxMessageSize {
		return 0, nil, fmt.Errorf("%w: %d byte payload", qkd.ErrChannelUnavailable, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return msgType(header[0]), payload, nil
}
