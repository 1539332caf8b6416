package changelog

import (
	"testing"

	"github.com/go-revlog/revlog/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	mnode := nodeid.Hash(nodeid.Null, nodeid.Null, []byte("manifest"))
	cs := Changeset{
		Manifest:    mnode,
		User:        "u",
		Seconds:     0,
		TZOffset:    0,
		Files:       []string{"a", "b"},
		Extras:      map[string]string{"branch": "default"},
		Description: "m",
	}
	raw := cs.Encode()
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, cs.Manifest, got.Manifest)
	assert.Equal(t, cs.User, got.User)
	assert.Equal(t, cs.Seconds, got.Seconds)
	assert.Equal(t, cs.TZOffset, got.TZOffset)
	assert.Equal(t, cs.Files, got.Files)
	assert.Equal(t, cs.Extras, got.Extras)
	assert.Equal(t, cs.Description, got.Description)
}

func TestDecodeMultilineDescription(t *testing.T) {
	cs := Changeset{Manifest: nodeid.Null, User: "u", Description: "line1\nline2"}
	got, err := Decode(cs.Encode())
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", got.Description)
}

func TestEncodeSortsFiles(t *testing.T) {
	cs := Changeset{Manifest: nodeid.Null, User: "u", Files: []string{"z", "a"}}
	got, err := Decode(cs.Encode())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, got.Files)
}
