package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasic_TextFile(t *testing.T) {
	n := NewBasic()

	record := n.Normalize([]byte("hello world\n"), "a.txt", "text/plain")
	require.True(t, record.Success)
	require.Equal(t, "hello world", record.TextContent)
	require.Empty(t, record.ImageContent)

	sum := sha256.Sum256([]byte("hello world\n"))
	require.Equal(t, hex.EncodeToString(sum[:]), record.SHA256)
	require.Equal(t, int64(12), record.SizeBytes)
}

func TestBasic_InvalidUTF8TextFails(t *testing.T) {
	n := NewBasic()

	record := n.Normalize([]byte{0xff, 0xfe, 0x00}, "bad.txt", "text/plain")
	require.False(t, record.Success)
	require.NotEmpty(t, record.Error)
	// The fingerprint is still usable for exact-hash grouping.
	require.NotEmpty(t, record.SHA256)
}

func TestBasic_ImagePayloadBase64(t *testing.T) {
	n := NewBasic()

	record := n.Normalize([]byte{1, 2, 3}, "p.png", "image/png")
	require.True(t, record.Success)
	require.Empty(t, record.TextContent)
	require.NotEmpty(t, record.ImageContent)
}

func TestBasic_BinaryFileHashOnly(t *testing.T) {
	n := NewBasic()

	record := n.Normalize([]byte{0, 1, 2}, "x.bin", "application/octet-stream")
	require.True(t, record.Success)
	require.Empty(t, record.TextContent)
	require.Empty(t, record.ImageContent)
	require.NotEmpty(t, record.SHA256)
}

func TestDetectMime(t *testing.T) {
	require.Equal(t, "text/plain", DetectMime("notes.TXT", ""))
	require.Equal(t, "image/jpeg", DetectMime("photo.jpg", "application/octet-stream"))
	require.Equal(t, "application/pdf", DetectMime("doc.pdf", ""))
	require.Equal(t, "text/html", DetectMime("page.weird", "text/html"))
	require.Equal(t, "application/octet-stream", DetectMime("mystery.xyz", ""))
}
