package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/pending"
)

// HistoryType is the record type holding the pending store.
var HistoryType = RecordType{'H', 'I', 'S', 'T'}

// HistoryVersion is the only history record version this package writes
// and reads.
const HistoryVersion uint32 = 1

// ErrNoHistory is returned when a container holds no history record this
// package can read. It is not malformed input: the caller should keep the
// state it has.
var ErrNoHistory = errors.New("persist: no history record")

// headerSize is type + version + length.
const headerSize = 12

// RecordType is a four character record tag.
type RecordType [4]byte

// String returns the tag as text.
func (t RecordType) String() string { return string(t[:]) }

// Record is one entry of a save container.
type Record struct {
	Type    RecordType
	Version uint32
	Data    []byte
}

// AppendRecord appends rec to dst as
// type[4] | version u32 | length u32 | data, little-endian.
func AppendRecord(dst []byte, rec Record) []byte {
	dst = append(dst, rec.Type[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, rec.Version)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(rec.Data)))
	return append(dst, rec.Data...)
}

// ParseContainer splits b into records. A truncated header or a length that
// runs past the end of b is malformed.
func ParseContainer(b []byte) ([]Record, error) {
	var recs []Record
	for off := 0; off < len(b); {
		if len(b)-off < headerSize {
			return nil, malformed("truncated record header at offset %d", off)
		}
		var rec Record
		copy(rec.Type[:], b[off:off+4])
		rec.Version = binary.LittleEndian.Uint32(b[off+4:])
		n := int(binary.LittleEndian.Uint32(b[off+8:]))
		off += headerSize
		if n > len(b)-off {
			return nil, malformed("record %s length %d exceeds remaining %d bytes", rec.Type, n, len(b)-off)
		}
		rec.Data = b[off : off+n]
		off += n
		recs = append(recs, rec)
	}
	return recs, nil
}

// EncodeState renders snap as a container holding a single history record.
// The record data is a u32 length prefix followed by the codec JSON.
func EncodeState(snap pending.Snapshot) ([]byte, error) {
	js, err := Encode(snap)
	if err != nil {
		return nil, err
	}
	data := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(js)), uint32(len(js)))
	data = append(data, js...)
	return AppendRecord(nil, Record{Type: HistoryType, Version: HistoryVersion, Data: data}), nil
}

// DecodeState extracts the pending store from a container. Records of other
// types, and history records of other versions, are skipped. A container
// without a readable history record, including an empty one, yields
// [ErrNoHistory].
func DecodeState(b []byte) (pending.Snapshot, error) {
	recs, err := ParseContainer(b)
	if err != nil {
		return nil, err
	}
	return historyFrom(recs)
}

// DecodeAny accepts either a container or bare codec JSON. Input that does
// not frame as a container is decoded as JSON, so a container whose first
// tag happens to start like JSON is still read as a container.
func DecodeAny(b []byte) (pending.Snapshot, error) {
	recs, err := ParseContainer(b)
	if err != nil {
		if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 {
			return Decode(trimmed)
		}
		return nil, err
	}
	return historyFrom(recs)
}

func historyFrom(recs []Record) (pending.Snapshot, error) {
	var (
		snap  pending.Snapshot
		found bool
		err   error
	)
	for _, rec := range recs {
		if rec.Type != HistoryType {
			slog.Debug("persist: skipping unknown record", "type", rec.Type.String(), "version", rec.Version)
			continue
		}
		if rec.Version != HistoryVersion {
			slog.Warn("persist: skipping unsupported history record version", "version", rec.Version)
			continue
		}
		if found {
			slog.Warn("persist: duplicate history record, keeping the last one")
		}
		snap, err = decodeHistory(rec.Data)
		if err != nil {
			return nil, err
		}
		found = true
	}
	if !found {
		return nil, ErrNoHistory
	}
	return snap, nil
}

func decodeHistory(data []byte) (pending.Snapshot, error) {
	if len(data) < 4 {
		return nil, malformed("history record shorter than its length prefix")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if n != len(data)-4 {
		return nil, malformed("history length prefix %d does not match payload %d", n, len(data)-4)
	}
	return Decode(data[4:])
}
