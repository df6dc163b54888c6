package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// OpType is the type of a journal entry
type OpType byte

const (
	// OpBegin opens a multi-step operation and records its intent
	OpBegin OpType = 1

	// OpStep records progress inside an open operation
	OpStep OpType = 2

	// OpCommit closes an operation
	OpCommit OpType = 3

	// OpCheckpoint marks that everything before it is settled
	OpCheckpoint OpType = 4
)

const (
	// EntryHeaderSize is the fixed size of the entry header
	// Layout: LSN(8) + OpID(8) + OpType(1) + Reserved(3) + KindLen(4) + PayloadLen(4) + Timestamp(8)
	EntryHeaderSize = 36

	// maxFieldSize bounds kind and payload lengths read from disk
	maxFieldSize = 64 << 20
)

// Entry is a single journal record
type Entry struct {
	LSN       uint64
	OpID      uint64
	OpType    OpType
	Kind      string
	Payload   []byte
	Timestamp time.Time
}

// Encode serializes the entry followed by a CRC32 of everything before it
// Format: [Header(36)] [Kind] [Payload] [CRC32(4)]
func (e *Entry) Encode() []byte {
	kindLen := len(e.Kind)
	payloadLen := len(e.Payload)
	buf := make([]byte, e.Size())

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], e.OpID)
	buf[16] = byte(e.OpType)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(kindLen))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(payloadLen))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(e.Timestamp.UnixNano()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Kind)
	offset += kindLen
	copy(buf[offset:], e.Payload)
	offset += payloadLen

	binary.LittleEndian.PutUint32(buf[offset:], crc32.ChecksumIEEE(buf[:offset]))
	return buf
}

// bodyLen returns the number of bytes following a header, CRC included.
func bodyLen(header []byte) (int, error) {
	kindLen := binary.LittleEndian.Uint32(header[20:24])
	payloadLen := binary.LittleEndian.Uint32(header[24:28])
	if kindLen > maxFieldSize || payloadLen > maxFieldSize {
		return 0, ErrCorrupted
	}
	return int(kindLen) + int(payloadLen) + 4, nil
}

// DecodeEntry deserializes an entry and verifies its checksum
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}
	n, err := bodyLen(data[:EntryHeaderSize])
	if err != nil {
		return nil, err
	}
	if len(data) < EntryHeaderSize+n {
		return nil, ErrTruncated
	}
	data = data[:EntryHeaderSize+n]

	end := len(data) - 4
	if binary.LittleEndian.Uint32(data[end:]) != crc32.ChecksumIEEE(data[:end]) {
		return nil, ErrCorrupted
	}

	kindLen := int(binary.LittleEndian.Uint32(data[20:24]))
	entry := &Entry{
		LSN:       binary.LittleEndian.Uint64(data[0:8]),
		OpID:      binary.LittleEndian.Uint64(data[8:16]),
		OpType:    OpType(data[16]),
		Kind:      string(data[EntryHeaderSize : EntryHeaderSize+kindLen]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[28:36]))),
	}
	if payload := data[EntryHeaderSize+kindLen : end]; len(payload) > 0 {
		entry.Payload = append([]byte(nil), payload...)
	}
	return entry, nil
}

// Size returns the encoded size of the entry
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Kind) + len(e.Payload) + 4
}

func (t OpType) String() string {
	switch t {
	case OpBegin:
		return "BEGIN"
	case OpStep:
		return "STEP"
	case OpCommit:
		return "COMMIT"
	case OpCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

func (e *Entry) String() string {
	return fmt.Sprintf("journal[LSN=%d Op=%d Type=%s Kind=%s PayloadLen=%d]",
		e.LSN, e.OpID, e.OpType, e.Kind, len(e.Payload))
}
