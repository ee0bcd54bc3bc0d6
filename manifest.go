package zipstream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies the blob-store location of an Entry's content. It is
// opaque to the engine: BlobStore implementations interpret Bucket and Key
// however they need to (for an S3-compatible store, Bucket is the bucket
// name and Key is the object key).
type Source struct {
	Bucket string
	Key    string
}

func (s Source) String() string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, s.Key)
}

// Entry describes a single member of the archive to be synthesized. Length
// and CRC are trusted: the engine never reads the member ahead of a
// request to verify them, so a manifest that lies about either produces an
// archive whose advertised Content-Length is wrong, or whose stream ends in
// a fatal error when the blob store delivers a different number of bytes
// than Length promised (see BlobStore and Stream).
type Entry struct {
	// ArchiveName is the in-archive path. It is treated as opaque bytes
	// when encoded; the engine does not interpret path separators.
	ArchiveName string

	// Length is the exact uncompressed size of the member, in bytes.
	Length uint64

	// CRC is the precomputed CRC-32 (IEEE) of the member's content.
	CRC uint32

	// Source locates the member's content in the blob store.
	Source Source

	// LastModified is converted to an MS-DOS date/time pair (UTC, 2s
	// resolution) for the ZIP local header and central directory entry.
	LastModified time.Time
}

// Manifest is the ordered list of archive members plus the download
// filename, as decoded from the JSON wire format.
type Manifest struct {
	Filename string
	Entries  []Entry
}

// manifestWire mirrors the JSON shape received from the engine's caller.
// Unknown fields are ignored by encoding/json's default decode behavior;
// missing required fields are caught by validation in DecodeManifest.
type manifestWire struct {
	Filename string          `json:"filename"`
	Entries  []entryWireItem `json:"entries"`
}

type entryWireItem struct {
	ArchiveName  *string `json:"archive_name"`
	Length       *uint64 `json:"length"`
	CRC          *uint32 `json:"crc"`
	Source       *string `json:"source"`
	LastModified *string `json:"last_modified"`
}

// DecodeManifest parses the JSON wire format into a
// Manifest. A malformed source URI, a missing required field, or invalid
// RFC3339 timestamp is a fatal ErrManifestInvalid, reported before any
// archive bytes are produced.
func DecodeManifest(data []byte) (*Manifest, error) {
	var wire manifestWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if wire.Filename == "" {
		return nil, fmt.Errorf("%w: missing filename", ErrManifestInvalid)
	}

	m := &Manifest{
		Filename: wire.Filename,
		Entries:  make([]Entry, len(wire.Entries)),
	}
	for i, item := range wire.Entries {
		entry, err := item.toEntry()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrManifestInvalid, i, err)
		}
		m.Entries[i] = entry
	}
	return m, nil
}

func (item entryWireItem) toEntry() (Entry, error) {
	switch {
	case item.ArchiveName == nil:
		return Entry{}, fmt.Errorf("missing archive_name")
	case item.Length == nil:
		return Entry{}, fmt.Errorf("missing length")
	case item.CRC == nil:
		return Entry{}, fmt.Errorf("missing crc")
	case item.Source == nil:
		return Entry{}, fmt.Errorf("missing source")
	case item.LastModified == nil:
		return Entry{}, fmt.Errorf("missing last_modified")
	}

	src, err := parseSourceURI(*item.Source)
	if err != nil {
		return Entry{}, err
	}
	modified, err := time.Parse(time.RFC3339, *item.LastModified)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid last_modified: %v", err)
	}

	return Entry{
		ArchiveName:  *item.ArchiveName,
		Length:       *item.Length,
		CRC:          *item.CRC,
		Source:       src,
		LastModified: modified,
	}, nil
}

// parseSourceURI parses the "s3://<bucket>/<key>" form used on the wire.
func parseSourceURI(uri string) (Source, error) {
	const prefix = "s3://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return Source{}, fmt.Errorf("source %q: expected s3://<bucket>/<key>", uri)
	}
	rest := uri[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			if i == 0 || i == len(rest)-1 {
				break
			}
			return Source{Bucket: rest[:i], Key: rest[i+1:]}, nil
		}
	}
	return Source{}, fmt.Errorf("source %q: expected s3://<bucket>/<key>", uri)
}
