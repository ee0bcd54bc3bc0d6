// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipstream

import (
	"encoding/binary"
	"fmt"
	"time"
)

// ZIP record signatures and fixed field widths, per APPNOTE 6.3.x. Unlike
// archive/zip, this codec
// never emits a data descriptor: Length and CRC are known before any bytes
// are written, so bit 3 of the general-purpose flag is always clear and the
// classic size fields in the local header are always the ZIP64 sentinel.
const (
	fileHeaderSignature     = 0x04034b50
	centralHeaderSignature  = 0x02014b50
	eocdSignature           = 0x06054b50
	zip64LocatorSignature   = 0x07064b50
	zip64EOCDSignature      = 0x06064b50
	fileHeaderLen           = 30 // + name + extra
	centralHeaderLen        = 46 // + name + extra (no comment)
	eocdLen                 = 22
	zip64LocatorLen         = 20
	zip64EOCDLen            = 56
	zip64ExtraID     uint16 = 0x0001

	versionNeeded45 uint16 = 45 // ZIP64
	versionMadeBy45 uint16 = 45 // low byte version, high byte host system (0 = FAT)

	uint16Max = 1<<16 - 1
	uint32Max = 1<<32 - 1

	// Store is the ZIP compression method used for every member: this
	// engine never compresses.
	Store uint16 = 0
)

var errLongName = fmt.Errorf("%w: archive_name exceeds 65535 bytes", ErrManifestInvalid)

type writeBuf []byte

func (b *writeBuf) uint16(v uint16) { binary.LittleEndian.PutUint16(*b, v); *b = (*b)[2:] }
func (b *writeBuf) uint32(v uint32) { binary.LittleEndian.PutUint32(*b, v); *b = (*b)[4:] }
func (b *writeBuf) uint64(v uint64) { binary.LittleEndian.PutUint64(*b, v); *b = (*b)[8:] }

// msdosTime converts t to an MS-DOS date/time pair in UTC, rounding seconds
// down to the nearest even number (2-second resolution). Sub-second and
// non-UTC input is normalized by UTC-converting first.
func msdosTime(t time.Time) (date, clock uint16) {
	t = t.UTC()
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	clock = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

// isASCII reports whether every byte of s is a 7-bit ASCII code point.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// nameFlags returns the general-purpose bit flag for an archive_name: bit
// 11 (UTF-8) set whenever the name is not pure ASCII, bit 3 (data
// descriptor) never set.
func nameFlags(name string) uint16 {
	if isASCII(name) {
		return 0
	}
	return 0x800
}

// encodeLocalHeader returns the exact bytes of the local file header for an
// entry, including its unconditional 20-byte ZIP64 extra field. Fails if
// name exceeds the 16-bit length field.
func encodeLocalHeader(name string, length uint64, crc uint32, modified time.Time) ([]byte, error) {
	if len(name) > uint16Max {
		return nil, errLongName
	}
	date, clock := msdosTime(modified)

	buf := make([]byte, fileHeaderLen+len(name)+20)
	b := writeBuf(buf)
	b.uint32(fileHeaderSignature)
	b.uint16(versionNeeded45)
	b.uint16(nameFlags(name))
	b.uint16(Store)
	b.uint16(clock)
	b.uint16(date)
	b.uint32(crc)
	b.uint32(uint32Max) // compressed size sentinel
	b.uint32(uint32Max) // uncompressed size sentinel
	b.uint16(uint16(len(name)))
	b.uint16(20) // extra field length
	copy(buf[fileHeaderLen:], name)
	extra := writeBuf(buf[fileHeaderLen+len(name):])
	extra.uint16(zip64ExtraID)
	extra.uint16(16) // data size: uncompressed size + compressed size
	extra.uint64(length)
	extra.uint64(length)
	return buf, nil
}

// encodeCentralDirectoryEntry returns the exact bytes of the central
// directory entry for an entry at the given local header offset. The
// ZIP64 extra is included only for the fields that actually require it
// (uncompressed size, compressed size, local header offset, in that
// order).
func encodeCentralDirectoryEntry(name string, length uint64, crc uint32, modified time.Time, localHeaderOffset uint64) ([]byte, error) {
	if len(name) > uint16Max {
		return nil, errLongName
	}
	date, clock := msdosTime(modified)

	needsSize := length >= uint32Max
	needsOffset := localHeaderOffset >= uint32Max

	extraLen := 0
	if needsSize || needsOffset {
		extraLen = 4 // header id + data size
		if needsSize {
			extraLen += 16
		}
		if needsOffset {
			extraLen += 8
		}
	}

	buf := make([]byte, centralHeaderLen+len(name)+extraLen)
	b := writeBuf(buf)
	b.uint32(centralHeaderSignature)
	b.uint16(versionMadeBy45)
	b.uint16(versionNeeded45)
	b.uint16(nameFlags(name))
	b.uint16(Store)
	b.uint16(clock)
	b.uint16(date)
	b.uint32(crc)
	if needsSize {
		b.uint32(uint32Max)
		b.uint32(uint32Max)
	} else {
		b.uint32(uint32(length))
		b.uint32(uint32(length))
	}
	b.uint16(uint16(len(name)))
	b.uint16(uint16(extraLen))
	b.uint16(0) // comment length
	b.uint16(0) // disk number start
	b.uint16(0) // internal file attributes
	b.uint32(0) // external file attributes
	if needsOffset {
		b.uint32(uint32Max)
	} else {
		b.uint32(uint32(localHeaderOffset))
	}
	copy(buf[centralHeaderLen:], name)

	if extraLen > 0 {
		extra := writeBuf(buf[centralHeaderLen+len(name):])
		extra.uint16(zip64ExtraID)
		extra.uint16(uint16(extraLen - 4))
		if needsSize {
			extra.uint64(length)
			extra.uint64(length)
		}
		if needsOffset {
			extra.uint64(localHeaderOffset)
		}
	}

	return buf, nil
}

// encodeEOCD returns the concatenation of the ZIP64 end-of-central-directory
// record, the ZIP64 EOCD locator, and the classic EOCD record, in that
// order. The ZIP64 trio is always present (this spec always uses ZIP64 for
// sizes and offsets, even for an empty manifest), and the classic EOCD's
// fields carry the usual 0xFFFF/0xFFFFFFFF sentinels whenever the real
// values don't fit.
func encodeEOCD(numEntries uint64, cdOffset uint64, cdSize uint64) []byte {
	buf := make([]byte, zip64EOCDLen+zip64LocatorLen+eocdLen)
	b := writeBuf(buf)

	// ZIP64 end of central directory record
	b.uint32(zip64EOCDSignature)
	b.uint64(zip64EOCDLen - 12) // size of remainder after signature + this field
	b.uint16(versionMadeBy45)
	b.uint16(versionNeeded45)
	b.uint32(0) // number of this disk
	b.uint32(0) // disk with the start of the central directory
	b.uint64(numEntries)
	b.uint64(numEntries)
	b.uint64(cdSize)
	b.uint64(cdOffset)

	// ZIP64 end of central directory locator. The ZIP64 EOCD record
	// immediately follows the central directory, so its absolute archive
	// offset is cdOffset+cdSize.
	b.uint32(zip64LocatorSignature)
	b.uint32(0) // disk with the ZIP64 EOCD record
	b.uint64(cdOffset + cdSize)
	b.uint32(1) // total number of disks

	// classic end of central directory record
	entries := numEntries
	size := cdSize
	offset := cdOffset
	if entries > uint16Max {
		entries = uint16Max
	}
	if size > uint32Max {
		size = uint32Max
	}
	if offset > uint32Max {
		offset = uint32Max
	}
	b.uint32(eocdSignature)
	b.uint16(0) // disk number
	b.uint16(0) // disk with start of central directory
	b.uint16(uint16(entries))
	b.uint16(uint16(entries))
	b.uint32(uint32(size))
	b.uint32(uint32(offset))
	b.uint16(0) // comment length

	return buf
}
