package api

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Frame markers: the first byte of every wire frame says how the JSON
// envelope that follows is packed.
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

// Envelopes smaller than this are not worth compressing; full-snapshot
// frames and directory updates routinely exceed it.
const compressionThreshold = 512

// Codec packs envelopes into wire frames. Safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Codec{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (codec *Codec) Marshal(envelope *Envelope) ([]byte, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	if len(raw) < compressionThreshold {
		return append([]byte{frameRaw}, raw...), nil
	}

	return codec.encoder.EncodeAll(raw, []byte{frameZstd}), nil
}

func (codec *Codec) Unmarshal(frame []byte) (*Envelope, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("refusing to unmarshal an empty frame")
	}

	var raw []byte
	var err error

	switch frame[0] {
	case frameRaw:
		raw = frame[1:]
	case frameZstd:
		raw, err = codec.decoder.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown frame marker 0x%02x", frame[0])
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}

	return &envelope, nil
}
