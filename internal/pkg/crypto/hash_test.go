package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// sha256 of "hello world".
const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHashReader_SinglePass(t *testing.T) {
	hr := NewHashReader(strings.NewReader("hello world"))

	// Read in small chunks so the digest accumulates across calls.
	buf := make([]byte, 4)
	var out bytes.Buffer
	n, err := hr.Read(buf)
	require.NoError(t, err)
	out.Write(buf[:n])
	require.False(t, hr.IsFinished())

	for {
		n, err = hr.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			break
		}
	}
	require.True(t, hr.IsFinished())

	require.Equal(t, "hello world", out.String())
	require.Equal(t, helloDigest, hr.Digest())
	require.Equal(t, int64(11), hr.Size())
}

func TestComputeSHA256_MatchesStreamVariant(t *testing.T) {
	data := []byte("hello world")

	require.Equal(t, helloDigest, ComputeSHA256(data))

	digest, size, err := ComputeStreamSHA256(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, helloDigest, digest)
	require.Equal(t, int64(11), size)
}

func TestValidateDigest(t *testing.T) {
	tests := []struct {
		name   string
		digest string
		want   bool
	}{
		{name: "lowercase hex", digest: helloDigest, want: true},
		{name: "uppercase hex", digest: strings.ToUpper(helloDigest), want: true},
		{name: "too short", digest: helloDigest[:63], want: false},
		{name: "too long", digest: helloDigest + "a", want: false},
		{name: "non-hex character", digest: "z" + helloDigest[1:], want: false},
		{name: "empty", digest: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ValidateDigest(tt.digest))
		})
	}
}
