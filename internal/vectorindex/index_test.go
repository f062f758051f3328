package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQdrantURL(t *testing.T) {
	cases := []struct {
		name       string
		url        string
		wantHost   string
		wantPort   int
		wantTLS    bool
		wantErr    bool
	}{
		{"https default port rewritten to grpc", "https://xyz.cloud.qdrant.io:6333", "xyz.cloud.qdrant.io", 6334, true, false},
		{"http localhost", "http://localhost:6333", "localhost", 6334, false, false},
		{"explicit grpc port kept", "http://localhost:6334", "localhost", 6334, false, false},
		{"no port defaults to grpc", "https://cloud.qdrant.io", "cloud.qdrant.io", 6334, true, false},
		{"invalid url", "not a url", "", 0, false, true},
		{"empty", "", "", 0, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tc.url)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantHost, host)
			assert.Equal(t, tc.wantPort, port)
			assert.Equal(t, tc.wantTLS, tls)
		})
	}
}
