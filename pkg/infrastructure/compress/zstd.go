// Package compress wraps the zstd codec applied uniformly to persisted
// activity datasets.
package compress

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// Ext is the file extension appended to compressed dataset objects.
const Ext = "zst"

// NewWriter returns a streaming zstd encoder. The level matches what the
// archive has always been written with; changing it would not corrupt
// anything but would make archive sizes incomparable across runs.
func NewWriter(w io.Writer) (*zstd.Encoder, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

// NewReader returns a streaming zstd decoder over r.
func NewReader(r io.Reader) (*zstd.Decoder, error) {
	return zstd.NewReader(r)
}

// Encode compresses data in one shot.
func Encode(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// Decode decompresses data in one shot.
func Decode(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
