package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const defaultConfig = `
general_delta: true
compression: zlib
`

func TestDefaults(t *testing.T) {
	cfg, err := Unmarshal([]byte(defaultConfig))
	assert.NoError(t, err)
	assert.Equal(t, DefaultMaxChainLen, cfg.MaxChainLen)
	assert.Equal(t, DefaultSnapshotRatio, cfg.SnapshotRatio)
	assert.Equal(t, "draft", cfg.DefaultPhase)
}

func TestEmptyConfigStillValidates(t *testing.T) {
	cfg, err := Unmarshal(nil)
	assert.NoError(t, err)
	assert.True(t, cfg.GeneralDelta)
	assert.Equal(t, CompressionZlib, cfg.Compression)
}

func TestRejectsUnknownCompression(t *testing.T) {
	_, err := Unmarshal([]byte("compression: lzma\n"))
	assert.Error(t, err)
}

func TestRejectsBadSnapshotRatio(t *testing.T) {
	_, err := Unmarshal([]byte("snapshot_ratio: 2.5\n"))
	assert.Error(t, err)
}

func TestRejectsBadDefaultPhase(t *testing.T) {
	_, err := Unmarshal([]byte("default_phase: public\n"))
	assert.Error(t, err)
}
