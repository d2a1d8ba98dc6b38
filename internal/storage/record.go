package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Kind identifies the command a record carries.
type Kind uint8

const (
	// KindSet assigns a value to a key.
	KindSet Kind = 1
	// KindRemove erases a key.
	KindRemove Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "Set"
	case KindRemove:
		return "Remove"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Record is one command appended to a segment.
//
// Encoded format:
//   - CRC32 of the payload (4 bytes)
//   - Payload length (4 bytes)
//   - Payload:
//   - Kind (1 byte)
//   - Key length (4 bytes)
//   - Value length (4 bytes, zero for Remove)
//   - Key (variable)
//   - Value (variable)
//
// All integers are little endian. The frame header makes every record's
// length known before its payload is read.
type Record struct {
	Kind  Kind
	Key   string
	Value string
}

// SetRecord returns a Set command.
func SetRecord(key, value string) Record {
	return Record{Kind: KindSet, Key: key, Value: value}
}

// RemoveRecord returns a Remove command.
func RemoveRecord(key string) Record {
	return Record{Kind: KindRemove, Key: key}
}

const (
	frameHeaderSize   = 8
	payloadHeaderSize = 9
	// maxPayloadSize bounds the length field so a damaged header cannot
	// request an absurd allocation.
	maxPayloadSize = 1 << 30
)

// EncodedSize returns the number of bytes the record occupies on disk.
func (r Record) EncodedSize() int64 {
	return int64(frameHeaderSize + payloadHeaderSize + len(r.Key) + len(r.Value))
}

// checkRecordSize fails with ErrRecordTooLarge if r encodes to more than
// limit bytes, or its payload exceeds what a frame header can describe.
func checkRecordSize(r Record, limit int64) error {
	size := r.EncodedSize()
	if size-frameHeaderSize > maxPayloadSize {
		limit = frameHeaderSize + maxPayloadSize
	}
	if size > limit {
		return fmt.Errorf("%w: %s record is %d bytes, limit %d", ErrRecordTooLarge, r.Kind, size, limit)
	}
	return nil
}

// encodeRecord serializes a record, frame header included.
func encodeRecord(r Record) []byte {
	buf := make([]byte, r.EncodedSize())
	payload := buf[frameHeaderSize:]

	payload[0] = byte(r.Kind)
	binary.LittleEndian.PutUint32(payload[1:], uint32(len(r.Key)))
	binary.LittleEndian.PutUint32(payload[5:], uint32(len(r.Value)))
	n := copy(payload[payloadHeaderSize:], r.Key)
	copy(payload[payloadHeaderSize+n:], r.Value)

	binary.LittleEndian.PutUint32(buf[0:], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(payload)))
	return buf
}

var (
	errShortFrame   = errors.New("frame shorter than header")
	errLengthField  = errors.New("payload length does not match frame")
	errChecksum     = errors.New("checksum mismatch")
	errShortPayload = errors.New("payload shorter than its header")
	errFieldLength  = errors.New("key and value lengths do not match payload")
	errUnknownKind  = errors.New("unknown record kind")
)

// frameLength parses a frame header and returns the payload length.
func frameLength(header []byte) (uint32, error) {
	if len(header) < frameHeaderSize {
		return 0, errShortFrame
	}
	n := binary.LittleEndian.Uint32(header[4:])
	if n > maxPayloadSize || n < payloadHeaderSize {
		return 0, errLengthField
	}
	return n, nil
}

// decodeRecord decodes one record that occupies all of frame.
func decodeRecord(frame []byte) (Record, error) {
	n, err := frameLength(frame)
	if err != nil {
		return Record{}, err
	}
	if int(n) != len(frame)-frameHeaderSize {
		return Record{}, errLengthField
	}

	payload := frame[frameHeaderSize:]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(frame[0:]) {
		return Record{}, errChecksum
	}
	return decodePayload(payload)
}

func decodePayload(payload []byte) (Record, error) {
	if len(payload) < payloadHeaderSize {
		return Record{}, errShortPayload
	}

	kind := Kind(payload[0])
	keyLen := int(binary.LittleEndian.Uint32(payload[1:]))
	valueLen := int(binary.LittleEndian.Uint32(payload[5:]))
	if payloadHeaderSize+keyLen+valueLen != len(payload) {
		return Record{}, errFieldLength
	}

	body := payload[payloadHeaderSize:]
	switch kind {
	case KindSet:
		return Record{
			Kind:  KindSet,
			Key:   string(body[:keyLen]),
			Value: string(body[keyLen:]),
		}, nil
	case KindRemove:
		if valueLen != 0 {
			return Record{}, errFieldLength
		}
		return Record{Kind: KindRemove, Key: string(body[:keyLen])}, nil
	default:
		return Record{}, errUnknownKind
	}
}
