package api_test

import (
	"strings"
	"testing"

	"github.com/collabterm/collabterm/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundtrip(t *testing.T) {
	codec, err := api.NewCodec()
	require.NoError(t, err)

	envelope, err := api.NewEnvelope(api.TypeOpenTerminal, 42, &api.OpenTerminal{
		ProjectID: 42,
		ID:        7,
	})
	require.NoError(t, err)
	envelope.From = "some-peer"
	envelope.RequestID = "some-request"

	frame, err := codec.Marshal(envelope)
	require.NoError(t, err)

	decoded, err := codec.Unmarshal(frame)
	require.NoError(t, err)

	assert.Equal(t, envelope.Type, decoded.Type)
	assert.Equal(t, envelope.ProjectID, decoded.ProjectID)
	assert.Equal(t, envelope.From, decoded.From)
	assert.Equal(t, envelope.RequestID, decoded.RequestID)

	var payload api.OpenTerminal
	require.NoError(t, decoded.DecodePayload(&payload))
	assert.EqualValues(t, 7, payload.ID)
}

func TestCodecCompressesLargeEnvelopes(t *testing.T) {
	codec, err := api.NewCodec()
	require.NoError(t, err)

	// A repetitive payload well above the compression threshold
	envelope, err := api.NewEnvelope(api.TypeTerminalFrame, 1, map[string]string{
		"content": strings.Repeat("all work and no play ", 1024),
	})
	require.NoError(t, err)

	frame, err := codec.Marshal(envelope)
	require.NoError(t, err)
	assert.Less(t, len(frame), len(envelope.Payload),
		"a repetitive envelope should come out smaller than its payload")

	decoded, err := codec.Unmarshal(frame)
	require.NoError(t, err)
	assert.Equal(t, string(envelope.Payload), string(decoded.Payload))
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := api.NewCodec()
	require.NoError(t, err)

	_, err = codec.Unmarshal(nil)
	assert.Error(t, err)

	_, err = codec.Unmarshal([]byte{0xff, 0x01, 0x02})
	assert.Error(t, err)
}
