package datastore

import (
	"encoding/binary"

	"github.com/brinstore/brinstore/internal/brinerr"
)

// EncodeEntries serializes an ordered entry list as a flat byte blob:
// a uint32 count followed by, for each entry, a length-prefixed key and a
// length-prefixed value.
func EncodeEntries(entries []Entry) []byte {
	size := 4
	for _, e := range entries {
		size += 4 + len(e.Key) + 4 + len(e.Value)
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(entries)))
	off += 4
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Key)))
		off += 4
		off += copy(buf[off:], e.Key)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Value)))
		off += 4
		off += copy(buf[off:], e.Value)
	}
	return buf
}

// DecodeEntries is the inverse of EncodeEntries.
func DecodeEntries(blob []byte) ([]Entry, error) {
	if len(blob) < 4 {
		return nil, brinerr.New(brinerr.Corruption, "datastore: entry blob truncated (missing count)")
	}
	count := binary.LittleEndian.Uint32(blob)
	off := 4
	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+4 > len(blob) {
			return nil, brinerr.New(brinerr.Corruption, "datastore: entry blob truncated (key length)")
		}
		klen := int(binary.LittleEndian.Uint32(blob[off:]))
		off += 4
		if off+klen > len(blob) {
			return nil, brinerr.New(brinerr.Corruption, "datastore: entry blob truncated (key)")
		}
		key := blob[off : off+klen]
		off += klen

		if off+4 > len(blob) {
			return nil, brinerr.New(brinerr.Corruption, "datastore: entry blob truncated (value length)")
		}
		vlen := int(binary.LittleEndian.Uint32(blob[off:]))
		off += 4
		if off+vlen > len(blob) {
			return nil, brinerr.New(brinerr.Corruption, "datastore: entry blob truncated (value)")
		}
		val := blob[off : off+vlen]
		off += vlen

		entries = append(entries, Entry{
			Key:   append([]byte(nil), key...),
			Value: append([]byte(nil), val...),
		})
	}
	return entries, nil
}
