package meow

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.mau.fi/whatsmeow/util/keys"
	"google.golang.org/protobuf/proto"

	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/wa"
)

// newTestTransport monta um transporte sobre um dispositivo vazio, sem
// banco nem rede. Suficiente para exercitar a tradução de eventos.
func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	logger.InitSimple("error", false)
	client := whatsmeow.NewClient(&store.Device{}, nil)
	return newTransport("test-session", client)
}

// nextEvent espera o próximo evento traduzido ou falha por timeout
func nextEvent(t *testing.T, tr *Transport) wa.Event {
	t.Helper()
	select {
	case evt := <-tr.Events():
		return evt
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for translated event")
		return nil
	}
}

func TestTransport_HandleEvent_CloseCodes(t *testing.T) {
	cases := []struct {
		name   string
		event  interface{}
		code   wa.DisconnectCode
		reason string
	}{
		{
			name:   "logged out",
			event:  &events.LoggedOut{OnConnect: false, Reason: events.ConnectFailureLoggedOut},
			code:   wa.CodeLoggedOut,
			reason: "logged out",
		},
		{
			name:   "stream replaced",
			event:  &events.StreamReplaced{},
			code:   wa.CodeConnectionReplaced,
			reason: "connection replaced",
		},
		{
			name:   "client outdated",
			event:  &events.ClientOutdated{},
			code:   wa.CodeUnavailableService,
			reason: "client outdated",
		},
		{
			name:   "socket dropped",
			event:  &events.Disconnected{},
			code:   wa.CodeConnectionLost,
			reason: "socket closed",
		},
		{
			name:   "numeric stream error",
			event:  &events.StreamError{Code: "515"},
			code:   wa.CodeRestartRequired,
			reason: "stream error 515",
		},
		{
			name:   "opaque stream error",
			event:  &events.StreamError{Code: "conflict"},
			code:   wa.CodeConnectionClosed,
			reason: "stream error conflict",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestTransport(t)
			tr.handleEvent(tc.event)

			evt := nextEvent(t, tr)
			update, ok := evt.(wa.ConnectionUpdate)
			require.True(t, ok, "expected connection update, got %T", evt)
			assert.Equal(t, "close", update.Connection)
			assert.Equal(t, tc.code, update.StatusCode)
			assert.Equal(t, tc.reason, update.Reason)
		})
	}
}

func TestTransport_HandleEvent_Connected(t *testing.T) {
	tr := newTestTransport(t)
	tr.handleEvent(&events.Connected{})

	// Primeiro as credenciais, depois a abertura: o supervisor persiste
	// antes de marcar a sessão como aberta
	evt := nextEvent(t, tr)
	creds, ok := evt.(wa.CredsUpdate)
	require.True(t, ok, "expected creds update, got %T", evt)
	require.NotNil(t, creds.Creds)
	assert.True(t, creds.Creds.Registered)

	evt = nextEvent(t, tr)
	update, ok := evt.(wa.ConnectionUpdate)
	require.True(t, ok, "expected connection update, got %T", evt)
	assert.Equal(t, "open", update.Connection)
}

func TestTransport_TranslateMessage(t *testing.T) {
	tr := newTestTransport(t)
	group := types.NewJID("120363025246125486", types.GroupServer)
	sender := types.NewJID("5511999990000", types.DefaultUserServer)

	t.Run("group message carries participant", func(t *testing.T) {
		msg := tr.translateMessage(&events.Message{
			Info: types.MessageInfo{
				MessageSource: types.MessageSource{
					Chat:     group,
					Sender:   sender,
					IsFromMe: false,
					IsGroup:  true,
				},
				ID:        "3EB0C431C26A1916E07E",
				PushName:  "Maria",
				Timestamp: time.Unix(1700000000, 0),
			},
			Message: &waE2E.Message{Conversation: proto.String("bom dia")},
		})

		assert.Equal(t, group.String(), msg.Key.RemoteJID)
		assert.False(t, msg.Key.FromMe)
		assert.Equal(t, "3EB0C431C26A1916E07E", msg.Key.ID)
		assert.Equal(t, sender.String(), msg.Key.Participant)
		assert.Equal(t, "Maria", msg.PushName)
		assert.Equal(t, int64(1700000000), msg.Timestamp)

		content, ok := msg.Content.(map[string]interface{})
		require.True(t, ok, "expected decoded content tree, got %T", msg.Content)
		assert.Equal(t, "bom dia", content["conversation"])
	})

	t.Run("own group message has no participant", func(t *testing.T) {
		msg := tr.translateMessage(&events.Message{
			Info: types.MessageInfo{
				MessageSource: types.MessageSource{
					Chat:     group,
					Sender:   sender,
					IsFromMe: true,
					IsGroup:  true,
				},
				ID: "AAF871A4C56E914E",
			},
		})

		assert.True(t, msg.Key.FromMe)
		assert.Empty(t, msg.Key.Participant)
		assert.Nil(t, msg.Content)
	})

	t.Run("direct message has no participant", func(t *testing.T) {
		msg := tr.translateMessage(&events.Message{
			Info: types.MessageInfo{
				MessageSource: types.MessageSource{
					Chat:   sender,
					Sender: sender,
				},
				ID: "BBE1720F3C44D0A2",
			},
		})

		assert.Equal(t, sender.String(), msg.Key.RemoteJID)
		assert.Empty(t, msg.Key.Participant)
	})
}

func TestTransport_HandleEvent_Receipt(t *testing.T) {
	tr := newTestTransport(t)
	chat := types.NewJID("5511988887777", types.DefaultUserServer)

	t.Run("empty type defaults to delivery", func(t *testing.T) {
		tr.handleEvent(&events.Receipt{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			MessageIDs:    []string{"A1", "B2"},
			Timestamp:     time.Unix(1700000100, 0),
		})

		evt := nextEvent(t, tr)
		update, ok := evt.(wa.MessageReceiptUpdate)
		require.True(t, ok, "expected receipt update, got %T", evt)
		require.Len(t, update.Receipts, 1)
		assert.Equal(t, "delivery", update.Receipts[0].Type)
		assert.Equal(t, []string{"A1", "B2"}, update.Receipts[0].MessageIDs)
		assert.Equal(t, chat.String(), update.Receipts[0].Chat)
		assert.Equal(t, int64(1700000100), update.Receipts[0].Timestamp)
	})

	t.Run("read receipt keeps its type", func(t *testing.T) {
		tr.handleEvent(&events.Receipt{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			MessageIDs:    []string{"C3"},
			Type:          types.ReceiptTypeRead,
		})

		evt := nextEvent(t, tr)
		update := evt.(wa.MessageReceiptUpdate)
		require.Len(t, update.Receipts, 1)
		assert.Equal(t, "read", update.Receipts[0].Type)
	})
}

func TestTransport_HandleEvent_GroupInfo(t *testing.T) {
	tr := newTestTransport(t)
	group := types.NewJID("120363312345678901", types.GroupServer)
	member := types.NewJID("5511977776666", types.DefaultUserServer)

	t.Run("rename", func(t *testing.T) {
		tr.handleEvent(&events.GroupInfo{
			JID:  group,
			Name: &types.GroupName{Name: "Plantão"},
		})

		evt := nextEvent(t, tr)
		update, ok := evt.(wa.GroupsUpdate)
		require.True(t, ok, "expected groups update, got %T", evt)
		require.Len(t, update.Groups, 1)
		assert.Equal(t, group.String(), update.Groups[0].JID)
		assert.Equal(t, "Plantão", update.Groups[0].Subject)
	})

	t.Run("join and leave become separate events", func(t *testing.T) {
		tr.handleEvent(&events.GroupInfo{
			JID:   group,
			Join:  []types.JID{member},
			Leave: []types.JID{member},
		})

		evt := nextEvent(t, tr)
		add, ok := evt.(wa.GroupParticipantsUpdate)
		require.True(t, ok, "expected participants update, got %T", evt)
		assert.Equal(t, "add", add.Action)
		assert.Equal(t, []string{member.String()}, add.Participants)

		evt = nextEvent(t, tr)
		remove := evt.(wa.GroupParticipantsUpdate)
		assert.Equal(t, "remove", remove.Action)
		assert.Equal(t, []string{member.String()}, remove.Participants)
	})
}

func TestTransport_SnapshotCreds(t *testing.T) {
	logger.InitSimple("error", false)

	jid := types.NewJID("5511987654321", types.DefaultUserServer)
	noise := keys.NewKeyPair()
	identity := keys.NewKeyPair()
	signed := identity.CreateSignedPreKey(7)
	device := &store.Device{
		ID:             &jid,
		RegistrationID: 4242,
		NoiseKey:       noise,
		IdentityKey:    identity,
		SignedPreKey:   signed,
		AdvSecretKey:   []byte("material"),
		Platform:       "smba",
		PushName:       "Atendimento",
	}

	tr := newTransport("creds", whatsmeow.NewClient(device, nil))
	creds := tr.snapshotCreds()

	require.NotNil(t, creds.NoiseKey)
	assert.Equal(t, noise.Priv[:], []byte(creds.NoiseKey.Private))
	assert.Equal(t, noise.Pub[:], []byte(creds.NoiseKey.Public))

	require.NotNil(t, creds.SignedIdentityKey)
	assert.Equal(t, identity.Priv[:], []byte(creds.SignedIdentityKey.Private))

	require.NotNil(t, creds.SignedPreKey)
	assert.Equal(t, signed.Priv[:], []byte(creds.SignedPreKey.KeyPair.Private))
	assert.Equal(t, signed.Signature[:], []byte(creds.SignedPreKey.Signature))
	assert.Equal(t, uint32(7), creds.SignedPreKey.KeyID)

	assert.Equal(t, uint32(4242), creds.RegistrationID)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("material")), creds.AdvSecretKey)
	assert.Equal(t, "smba", creds.Platform)
	assert.True(t, creds.Registered)

	require.NotNil(t, creds.Me)
	assert.Equal(t, jid.String(), creds.Me.ID)
	assert.Equal(t, "Atendimento", creds.Me.Name)
	assert.Empty(t, creds.Me.LID)
	assert.True(t, creds.Valid())
}

func TestTransport_Disconnect(t *testing.T) {
	tr := newTestTransport(t)
	tr.Disconnect()

	evt := nextEvent(t, tr)
	update, ok := evt.(wa.ConnectionUpdate)
	require.True(t, ok, "expected connection update, got %T", evt)
	assert.Equal(t, "close", update.Connection)
	assert.Equal(t, wa.CodeConnectionLost, update.StatusCode)
	assert.Equal(t, "connection closed", update.Reason)
	assert.False(t, tr.IsWritable())

	// Depois de encerrado, nem a segunda chamada nem novos eventos do
	// cliente produzem entregas
	tr.Disconnect()
	tr.handleEvent(&events.Disconnected{})

	select {
	case extra := <-tr.Events():
		t.Fatalf("unexpected event after disconnect: %#v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessageContent(t *testing.T) {
	assert.Nil(t, messageContent(nil))

	content := messageContent(&waE2E.Message{Conversation: proto.String("oi")})
	tree, ok := content.(map[string]interface{})
	require.True(t, ok, "expected decoded tree, got %T", content)
	assert.Equal(t, "oi", tree["conversation"])
}
