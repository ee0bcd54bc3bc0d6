package zipstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeManifest(t *testing.T) {
	valid := `{
		"filename": "bundle.zip",
		"entries": [
			{"archive_name": "a.txt", "length": 3, "crc": 1, "source": "s3://bucket/a.txt", "last_modified": "2024-01-02T03:04:05Z"},
			{"archive_name": "b.txt", "length": 0, "crc": 0, "source": "s3://bucket/b.txt", "last_modified": "2024-01-02T03:04:05Z"}
		]
	}`

	m, err := DecodeManifest([]byte(valid))
	require.NoError(t, err)
	assert.Equal(t, "bundle.zip", m.Filename)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, Source{Bucket: "bucket", Key: "a.txt"}, m.Entries[0].Source)
}

func TestDecodeManifestInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":          `not json`,
		"missing filename":  `{"entries": []}`,
		"missing length":    `{"filename": "x.zip", "entries": [{"archive_name": "a", "crc": 1, "source": "s3://b/a", "last_modified": "2024-01-02T03:04:05Z"}]}`,
		"bad source scheme": `{"filename": "x.zip", "entries": [{"archive_name": "a", "length": 1, "crc": 1, "source": "http://b/a", "last_modified": "2024-01-02T03:04:05Z"}]}`,
		"bad timestamp":     `{"filename": "x.zip", "entries": [{"archive_name": "a", "length": 1, "crc": 1, "source": "s3://b/a", "last_modified": "not-a-time"}]}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeManifest([]byte(data))
			assert.ErrorIs(t, err, ErrManifestInvalid)
		})
	}
}

func TestParseSourceURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    Source
		wantErr bool
	}{
		{"s3://bucket/key", Source{Bucket: "bucket", Key: "key"}, false},
		{"s3://bucket/nested/path/key.bin", Source{Bucket: "bucket", Key: "nested/path/key.bin"}, false},
		{"s3://bucket/", Source{}, true},
		{"s3:///key", Source{}, true},
		{"gs://bucket/key", Source{}, true},
		{"s3://justbucket", Source{}, true},
	}
	for _, tt := range tests {
		got, err := parseSourceURI(tt.uri)
		if tt.wantErr {
			assert.Error(t, err, "parseSourceURI(%q)", tt.uri)
			continue
		}
		require.NoError(t, err, "parseSourceURI(%q)", tt.uri)
		assert.Equal(t, tt.want, got, "parseSourceURI(%q)", tt.uri)
	}
}
