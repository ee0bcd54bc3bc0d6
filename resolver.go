package zipstream

// Slice is one contiguous region of the virtual archive address space: a
// sub-range of precomputed metadata bytes, or a byte range to be fetched
// from the blob store. Exactly one of Meta or Source is set on any given
// value.
type Slice struct {
	// Meta holds the metadata bytes to serve when this is a metadata
	// slice (Source is the zero value in that case).
	Meta []byte

	// Source, SourceStart, SourceEnd describe a blob-store byte range
	// [SourceStart, SourceEnd) to fetch when this is a data slice (Meta
	// is nil in that case).
	Source      Source
	SourceStart uint64
	SourceEnd   uint64
}

// IsData reports whether the slice must be fetched from the blob store.
func (s Slice) IsData() bool { return s.Meta == nil }

// region is one contiguous span of the plan's virtual address space,
// used internally to locate which part of the plan a given archive offset
// falls into: a sorted offset table over local-header/data/central-
// directory/EOCD spans, searched by binary search, with region lookup
// separated from region execution.
type region struct {
	start uint64 // inclusive, absolute archive offset
	end   uint64 // exclusive
	kind  regionKind
	index int // entry index, meaningful for kindLocalHeader/kindData
}

type regionKind int

const (
	kindLocalHeader regionKind = iota
	kindData
	kindCentralDirectory
	kindEOCD
)

// regions returns the plan's virtual address space as an ordered,
// non-overlapping list of contiguous spans over the archive's "address
// space layout". Empty members (Length == 0) contribute no data region.
func (p *Plan) regions() []region {
	regions := make([]region, 0, len(p.entries)*2+2)
	for i, pe := range p.entries {
		regions = append(regions, region{
			start: pe.localHeaderOffset,
			end:   pe.dataOffset,
			kind:  kindLocalHeader,
			index: i,
		})
		if pe.entry.Length > 0 {
			regions = append(regions, region{
				start: pe.dataOffset,
				end:   pe.dataOffset + pe.entry.Length,
				kind:  kindData,
				index: i,
			})
		}
	}
	regions = append(regions, region{
		start: p.centralDirectoryOffset,
		end:   p.centralDirectoryOffset + p.centralDirectoryLength,
		kind:  kindCentralDirectory,
	})
	regions = append(regions, region{
		start: p.centralDirectoryOffset + p.centralDirectoryLength,
		end:   p.totalLength,
		kind:  kindEOCD,
	})
	return regions
}

// metaBytes returns the precomputed blob a metadata region refers to.
func (p *Plan) metaBytes(r region) []byte {
	switch r.kind {
	case kindLocalHeader:
		return p.entries[r.index].localHeader
	case kindCentralDirectory:
		return p.cdBytes
	case kindEOCD:
		return p.eocdBytes
	default:
		return nil
	}
}

// ResolveRange returns the ordered sequence of slices that together
// produce exactly the bytes of the archive in [a, b). It is a pure
// function of (plan, a, b): calling it twice with the same arguments
// yields an identical sequence.
//
// ResolveRange performs the region lookup that backed zipserve's
// multiReaderAt.ReadAtContext (its io.go): a binary search over a sorted
// offset table finds the first region intersecting the request, then a linear
// walk emits one Slice per region until b is reached. Here the walk
// produces descriptors instead of performing reads, so the caller (Stream)
// can interleave blob-store fetches with writes however it needs to.
func ResolveRange(p *Plan, a, b uint64) ([]Slice, error) {
	if a > b || b > p.totalLength {
		return nil, ErrRangeUnsatisfiable
	}
	if a == b {
		return nil, nil
	}

	regions := p.regions()
	// Binary search for the first region whose end exceeds a.
	lo, hi := 0, len(regions)
	for lo < hi {
		mid := (lo + hi) / 2
		if regions[mid].end > a {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	var slices []Slice
	cursor := a
	for i := lo; i < len(regions) && cursor < b; i++ {
		r := regions[i]
		spanStart := max64(r.start, cursor)
		spanEnd := min64(r.end, b)
		if spanStart >= spanEnd {
			continue
		}

		if r.kind == kindData {
			entry := p.entries[r.index].entry
			slices = append(slices, Slice{
				Source:      entry.Source,
				SourceStart: spanStart - r.start,
				SourceEnd:   spanEnd - r.start,
			})
		} else {
			meta := p.metaBytes(r)
			localStart := spanStart - r.start
			localEnd := spanEnd - r.start
			slices = append(slices, Slice{Meta: meta[localStart:localEnd]})
		}

		cursor = spanEnd
	}

	return slices, nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
