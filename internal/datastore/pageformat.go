package datastore

import (
	"encoding/binary"
	"hash/crc32"
)

// Each BRIN data page is framed the same way the pager frames B+Tree and
// overflow pages (fixed-size, CRC32-C checked), but with a 64-bit PageID —
// the pager's own PageID is only 32 bits and is scoped to its own file, so
// FileStore keeps an independent, strictly monotonic ID space as required
// by IndexDataStorage.
//
// Layout:
//
//	[0:1]   kind (1 = chain chunk)
//	[1:8]   reserved
//	[8:16]  PageID      (uint64 LE)
//	[16:24] NextPageID  (uint64 LE, 0 = end of chain)
//	[24:28] ChunkLen    (uint32 LE)
//	[28:32] CRC32       (uint32 LE, of the whole page with this field zeroed)
//	[32:]   payload

const (
	pageKindChunk = 1

	offKind     = 0
	offPageID   = 8
	offNext     = 16
	offChunkLen = 24
	offCRC      = 28
	headerSize  = 32
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func chunkCapacity(pageSize int) int {
	return pageSize - headerSize
}

func initChunkPage(buf []byte, id, next PageID) {
	buf[offKind] = pageKindChunk
	binary.LittleEndian.PutUint64(buf[offPageID:], uint64(id))
	binary.LittleEndian.PutUint64(buf[offNext:], uint64(next))
}

func setChunkData(buf []byte, data []byte) {
	binary.LittleEndian.PutUint32(buf[offChunkLen:], uint32(len(data)))
	copy(buf[headerSize:], data)
	setChunkCRC(buf)
}

func chunkPageID(buf []byte) PageID {
	return PageID(binary.LittleEndian.Uint64(buf[offPageID:]))
}

func chunkNext(buf []byte) PageID {
	return PageID(binary.LittleEndian.Uint64(buf[offNext:]))
}

func chunkData(buf []byte) []byte {
	n := binary.LittleEndian.Uint32(buf[offChunkLen:])
	return buf[headerSize : headerSize+int(n)]
}

func setChunkCRC(buf []byte) {
	binary.LittleEndian.PutUint32(buf[offCRC:], computeChunkCRC(buf))
}

func computeChunkCRC(buf []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(buf[:offCRC])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[offCRC+4:])
	return h.Sum32()
}

func verifyChunkCRC(buf []byte) bool {
	stored := binary.LittleEndian.Uint32(buf[offCRC:])
	return stored == computeChunkCRC(buf)
}
