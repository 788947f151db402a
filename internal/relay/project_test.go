// nolint:testpackage // we intentionally don't use a separate test package to call the joinGuest() method
package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/collabterm/collabterm/internal/api"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretValidation(t *testing.T) {
	const secret = "this is really a secret"

	var testCases = []struct {
		Name             string
		TrustedSecret    string
		SecretToValidate string
		ShouldBeValid    bool
	}{
		{
			Name:             "valid secret",
			TrustedSecret:    secret,
			SecretToValidate: secret,
			ShouldBeValid:    true,
		},
		{
			Name:             "empty trusted secret is never valid (empty)",
			TrustedSecret:    "",
			SecretToValidate: "",
			ShouldBeValid:    false,
		},
		{
			Name:             "empty trusted secret is never valid (non-empty)",
			TrustedSecret:    "",
			SecretToValidate: "123",
			ShouldBeValid:    false,
		},
		{
			Name:             "invalid secret (slightly longer)",
			TrustedSecret:    secret,
			SecretToValidate: secret + "1",
			ShouldBeValid:    false,
		},
		{
			Name:             "invalid secret (different capitalization)",
			TrustedSecret:    secret,
			SecretToValidate: strings.ToUpper(secret),
			ShouldBeValid:    false,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase

		t.Run(testCase.Name, func(t *testing.T) {
			testProject := newProject(1, testCase.TrustedSecret, nil)

			assert.Equal(t, testCase.ShouldBeValid, testProject.isSecretValid(testCase.SecretToValidate))
		})
	}
}

func TestGuestRegistrationUnregistration(t *testing.T) {
	testProject := newProject(1, "doesn't matter", nil)

	require.NoError(t, testProject.joinGuest("some-peer", nil))
	require.Error(t, testProject.joinGuest("some-peer", nil),
		"duplicate peer IDs should be refused")

	testProject.unregisterGuest("some-peer")
	require.NoError(t, testProject.joinGuest("some-peer", nil))
}

func TestNoGuestRegistrationAfterProjectClosure(t *testing.T) {
	testProject := newProject(1, "doesn't matter", nil)
	testProject.close()

	require.Error(t, testProject.joinGuest("some-peer", nil))
}

func TestBroadcastCachesTheDirectory(t *testing.T) {
	testProject := newProject(1, "doesn't matter", nil)

	require.Nil(t, testProject.lastDirectory)

	envelope := directoryEnvelope(t, []uint64{1, 2, 3})
	testProject.broadcast(envelope, noBroadcastErrors(t))

	assert.Equal(t, envelope, testProject.lastDirectory)
}

func TestJoinReplaysTheLatestDirectory(t *testing.T) {
	testProject := newProject(1, "doesn't matter", nil)

	// Two broadcasts before anyone joined: only the newest one matters
	testProject.broadcast(directoryEnvelope(t, []uint64{1}), noBroadcastErrors(t))
	newest := directoryEnvelope(t, []uint64{1, 2})
	testProject.broadcast(newest, noBroadcastErrors(t))

	guestConn, clientWS := peerConnPair(t)
	require.NoError(t, testProject.joinGuest("some-peer", guestConn))

	codec, err := api.NewCodec()
	require.NoError(t, err)

	_, frame, err := clientWS.ReadMessage()
	require.NoError(t, err)
	replayed, err := codec.Unmarshal(frame)
	require.NoError(t, err)

	var update api.UpdateTerminals
	require.NoError(t, replayed.DecodePayload(&update))
	assert.Equal(t, []uint64{1, 2}, update.Terminals)
}

func directoryEnvelope(t *testing.T, terminals []uint64) *api.Envelope {
	envelope, err := api.NewEnvelope(api.TypeUpdateTerminals, 1, &api.UpdateTerminals{
		ProjectID: 1,
		Terminals: terminals,
	})
	require.NoError(t, err)

	return envelope
}

func noBroadcastErrors(t *testing.T) func(peerID string, err error) {
	return func(peerID string, err error) {
		t.Errorf("unexpected broadcast failure for peer %s: %v", peerID, err)
	}
}

// peerConnPair establishes a real websocket pair and returns the server side
// wrapped as a peerConn plus the raw client side to read from.
func peerConnPair(t *testing.T) (*peerConn, *websocket.Conn) {
	codec, err := api.NewCodec()
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *peerConn, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade the test connection: %v", err)
			return
		}
		serverConns <- newPeerConn(ws, codec)
	}))
	t.Cleanup(server.Close)

	clientWS, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientWS.Close() })

	serverConn := <-serverConns
	t.Cleanup(serverConn.close)

	return serverConn, clientWS
}
