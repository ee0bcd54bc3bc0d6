package zipstream

import (
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
)

// planEntry is the precomputed, immutable per-member slice of a Plan.
type planEntry struct {
	entry             Entry
	localHeaderOffset uint64
	dataOffset        uint64
	localHeader       []byte
	cdEntry           []byte
}

// Plan is the precomputed, immutable layout of a virtual ZIP64 archive, as
// built by BuildPlan from a Manifest. It is built once per incoming
// archive request and discarded when the response ends: nothing here is
// safe, or useful, to reuse across requests for a different manifest.
type Plan struct {
	entries                 []planEntry
	centralDirectoryOffset  uint64
	centralDirectoryLength  uint64
	cdBytes                 []byte
	eocdBytes               []byte
	totalLength             uint64
	filename                string

	// ETag is a content-derived signature of the plan (xxhash64 over each
	// entry's archive_name, length, crc and source), suitable for an HTTP
	// ETag header. It is not part of the archive byte format.
	ETag string
}

// maxEntries bounds the manifest entry count to what the classic ZIP
// "number of entries" accounting can still describe losslessly via ZIP64
// (a uint32 count would already be absurd in practice; this also keeps
// loop indices representable).
const maxEntries = math.MaxUint32

// BuildPlan computes the Plan for a manifest: the precise layout algorithm
// generalized from zipserve's newArchive offset
// bookkeeping loop (its archive.go) to work over remote-backed entries instead
// of local io.ReaderAt content.
func BuildPlan(m *Manifest) (*Plan, error) {
	start := time.Now()
	defer func() { planDuration.Observe(time.Since(start).Seconds()) }()

	if len(m.Entries) > maxEntries {
		return nil, fmt.Errorf("%w: %d entries exceeds limit of %d", ErrManifestInvalid, len(m.Entries), maxEntries)
	}

	p := &Plan{
		entries:  make([]planEntry, len(m.Entries)),
		filename: m.Filename,
	}

	digest := xxhash.New()
	offset := uint64(0)
	for i, e := range m.Entries {
		localHeader, err := encodeLocalHeader(e.ArchiveName, e.Length, e.CRC, e.LastModified)
		if err != nil {
			return nil, err
		}

		dataOffset := offset + uint64(len(localHeader))
		if err := checkOverflow(dataOffset, e.Length); err != nil {
			return nil, err
		}

		cdEntry, err := encodeCentralDirectoryEntry(e.ArchiveName, e.Length, e.CRC, e.LastModified, offset)
		if err != nil {
			return nil, err
		}

		p.entries[i] = planEntry{
			entry:             e,
			localHeaderOffset: offset,
			dataOffset:        dataOffset,
			localHeader:       localHeader,
			cdEntry:           cdEntry,
		}

		fmt.Fprintf(digest, "%s\x00%d\x00%d\x00%s\x00", e.ArchiveName, e.Length, e.CRC, e.Source)

		offset = dataOffset + e.Length
	}

	p.centralDirectoryOffset = offset
	p.cdBytes = make([]byte, 0, p.centralDirectoryLength)
	for _, pe := range p.entries {
		p.centralDirectoryLength += uint64(len(pe.cdEntry))
		p.cdBytes = append(p.cdBytes, pe.cdEntry...)
	}
	if err := checkOverflow(p.centralDirectoryOffset, p.centralDirectoryLength); err != nil {
		return nil, err
	}

	p.eocdBytes = encodeEOCD(uint64(len(p.entries)), p.centralDirectoryOffset, p.centralDirectoryLength)

	total := p.centralDirectoryOffset + p.centralDirectoryLength + uint64(len(p.eocdBytes))
	if total > math.MaxInt64 {
		return nil, fmt.Errorf("%w: total length %d exceeds maximum archive size", ErrPlanOverflow, total)
	}
	p.totalLength = total
	p.ETag = fmt.Sprintf(`"%016x"`, digest.Sum64())

	return p, nil
}

// checkOverflow reports ErrPlanOverflow if a+b would exceed the maximum
// representable archive offset.
func checkOverflow(a, b uint64) error {
	if b > math.MaxUint64-a || a+b > math.MaxInt64 {
		return fmt.Errorf("%w: archive offset overflow", ErrPlanOverflow)
	}
	return nil
}

// ContentLength returns the total archive length in bytes, as advertised
// in the HTTP Content-Length header.
func (p *Plan) ContentLength() int64 { return int64(p.totalLength) }

// Filename returns the manifest's download filename, for use in a
// Content-Disposition header.
func (p *Plan) Filename() string { return p.filename }

// NumEntries returns the number of members in the plan.
func (p *Plan) NumEntries() int { return len(p.entries) }
