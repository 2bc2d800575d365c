// Package meow adapta o cliente whatsmeow ao contrato de transporte do
// supervisor de sessões. Toda a tradução entre os eventos nativos da
// biblioteca e o vocabulário do gateway acontece aqui.
package meow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/wa"
)

const eventBufferSize = 512

// Transport envolve um whatsmeow.Client e publica os eventos traduzidos
// em um canal consumido pelo supervisor. O canal nunca é fechado pelo
// transporte: o fim da conexão é sinalizado pelo próprio evento de
// fechamento.
type Transport struct {
	sessionID string
	client    *whatsmeow.Client
	logger    *logger.ComponentLogger

	events    chan wa.Event
	done      chan struct{}
	closeOnce sync.Once
	handlerID uint32

	qrMu     sync.Mutex
	qrCancel context.CancelFunc
}

func newTransport(sessionID string, client *whatsmeow.Client) *Transport {
	t := &Transport{
		sessionID: sessionID,
		client:    client,
		logger:    logger.ForComponent("meow").WithSession(sessionID),
		events:    make(chan wa.Event, eventBufferSize),
		done:      make(chan struct{}),
	}
	t.handlerID = client.AddEventHandler(t.handleEvent)
	return t
}

// Connect abre o socket. Sem dispositivo pareado, o fluxo de QR é
// iniciado antes da conexão e os códigos chegam como eventos.
func (t *Transport) Connect(ctx context.Context) error {
	t.emit(wa.ConnectionUpdate{Connection: "connecting"})

	if t.client.Store.ID == nil {
		// O ciclo de QR sobrevive ao prazo de conexão, por isso não
		// herda o contexto do chamador
		qrCtx, cancel := context.WithCancel(context.Background())
		t.qrMu.Lock()
		t.qrCancel = cancel
		t.qrMu.Unlock()

		qrChan, err := t.client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("get qr channel: %w", err)
		}
		go t.forwardQR(qrChan)
	}

	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (t *Transport) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			t.logger.Info().Msg("QR code generated")
			t.emit(wa.ConnectionUpdate{Connection: "connecting", QR: item.Code})
		case "success":
			t.logger.Info().Msg("QR pairing confirmed")
		case "timeout":
			t.logger.Warn().Msg("QR code expired without pairing")
			t.emit(wa.ConnectionUpdate{
				Connection: "close",
				StatusCode: wa.CodeConnectionLost,
				Reason:     "qr timeout",
			})
		default:
			t.logger.Debug().Str("event", item.Event).Msg("QR channel event")
		}
	}
}

// Disconnect encerra o socket e emite o evento de fechamento. Chamadas
// repetidas são inofensivas.
func (t *Transport) Disconnect() {
	t.closeOnce.Do(func() {
		t.qrMu.Lock()
		if t.qrCancel != nil {
			t.qrCancel()
			t.qrCancel = nil
		}
		t.qrMu.Unlock()

		t.client.RemoveEventHandler(t.handlerID)
		t.client.Disconnect()

		select {
		case t.events <- wa.ConnectionUpdate{
			Connection: "close",
			StatusCode: wa.CodeConnectionLost,
			Reason:     "connection closed",
		}:
		default:
		}
		close(t.done)
	})
}

func (t *Transport) Logout(ctx context.Context) error {
	if !t.client.IsLoggedIn() {
		return nil
	}
	if err := t.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (t *Transport) Events() <-chan wa.Event {
	return t.events
}

func (t *Transport) IsWritable() bool {
	select {
	case <-t.done:
		return false
	default:
	}
	return t.client.IsConnected()
}

// Ping prova que o socket aceita escrita enviando presença
func (t *Transport) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.client.IsConnected() {
		return wa.ErrNotConnected
	}
	return t.client.SendPresence(types.PresenceAvailable)
}

// PresenceRoundTrip é a sonda mais profunda usada pelo health check:
// além da presença, assina as atualizações do próprio JID, o que exige
// resposta do servidor
func (t *Transport) PresenceRoundTrip(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.client.IsConnected() {
		return wa.ErrNotConnected
	}
	if err := t.client.SendPresence(types.PresenceAvailable); err != nil {
		return err
	}
	if t.client.Store.ID != nil {
		return t.client.SubscribePresence(*t.client.Store.ID)
	}
	return nil
}

func (t *Transport) SendText(ctx context.Context, to, text string) (string, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("parse jid %q: %w", to, err)
	}

	id := t.client.GenerateMessageID()
	msg := &waE2E.Message{Conversation: proto.String(text)}

	resp, err := t.client.SendMessage(ctx, jid, msg, whatsmeow.SendRequestExtra{ID: id})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	t.logger.Debug().Str("to", jid.String()).Str("message_id", string(resp.ID)).Msg("Message sent")
	return string(resp.ID), nil
}

func (t *Transport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if t.client.IsLoggedIn() {
		return "", wa.ErrPairingUnavailable
	}
	if !t.client.IsConnected() {
		return "", wa.ErrNotConnected
	}

	code, err := t.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("pair phone: %w", err)
	}
	t.logger.Info().Str("phone", phone).Msg("Pairing code issued")
	return code, nil
}

// emit publica no canal respeitando o encerramento do transporte
func (t *Transport) emit(ev wa.Event) {
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *Transport) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		t.logger.Info().Msg("Connected to WhatsApp")
		t.emit(wa.CredsUpdate{Creds: t.snapshotCreds()})
		t.emit(wa.ConnectionUpdate{Connection: "open"})

	case *events.PairSuccess:
		t.logger.Info().Str("jid", v.ID.String()).Str("platform", v.Platform).Msg("Pair success")
		t.emit(wa.CredsUpdate{Creds: t.snapshotCreds()})

	case *events.PairError:
		t.logger.Error().Err(v.Error).Str("jid", v.ID.String()).Msg("Pair error")

	case *events.LoggedOut:
		t.logger.Warn().Int("reason", int(v.Reason)).Msg("Logged out by server")
		t.emit(wa.ConnectionUpdate{
			Connection: "close",
			StatusCode: wa.CodeLoggedOut,
			Reason:     "logged out",
		})

	case *events.StreamReplaced:
		t.logger.Warn().Msg("Stream replaced by another connection")
		t.emit(wa.ConnectionUpdate{
			Connection: "close",
			StatusCode: wa.CodeConnectionReplaced,
			Reason:     "connection replaced",
		})

	case *events.TemporaryBan:
		t.logger.Error().Str("code", v.Code.String()).Dur("expire", v.Expire).Msg("Temporary ban")
		t.emit(wa.ConnectionUpdate{
			Connection: "close",
			StatusCode: wa.CodeForbidden,
			Reason:     fmt.Sprintf("temporary ban: %s", v.Code.String()),
		})

	case *events.ClientOutdated:
		t.logger.Error().Msg("Client version rejected by server")
		t.emit(wa.ConnectionUpdate{
			Connection: "close",
			StatusCode: wa.CodeUnavailableService,
			Reason:     "client outdated",
		})

	case *events.StreamError:
		code := wa.CodeConnectionClosed
		if parsed, err := strconv.Atoi(v.Code); err == nil && parsed > 0 {
			code = wa.DisconnectCode(parsed)
		}
		t.logger.Warn().Str("code", v.Code).Msg("Stream error")
		t.emit(wa.ConnectionUpdate{
			Connection: "close",
			StatusCode: code,
			Reason:     fmt.Sprintf("stream error %s", v.Code),
		})

	case *events.ConnectFailure:
		t.logger.Error().Int("reason", int(v.Reason)).Str("message", v.Message).Msg("Connection failed")
		t.emit(wa.ConnectionUpdate{
			Connection: "close",
			StatusCode: wa.DisconnectCode(int(v.Reason)),
			Reason:     v.Message,
		})

	case *events.Disconnected:
		t.logger.Info().Msg("Disconnected from WhatsApp")
		t.emit(wa.ConnectionUpdate{
			Connection: "close",
			StatusCode: wa.CodeConnectionLost,
			Reason:     "socket closed",
		})

	case *events.KeepAliveTimeout:
		t.logger.Warn().Int("error_count", v.ErrorCount).Msg("Keep-alive timeout reported by client")

	case *events.KeepAliveRestored:
		t.logger.Info().Msg("Keep-alive restored")

	case *events.Message:
		t.emit(wa.MessagesUpsert{
			Messages: []wa.Message{t.translateMessage(v)},
			Type:     "notify",
		})

	case *events.UndecryptableMessage:
		t.logger.Warn().Str("from", v.Info.Sender.String()).Str("message_id", v.Info.ID).Msg("Undecryptable message")

	case *events.Receipt:
		receiptType := string(v.Type)
		if receiptType == "" {
			receiptType = "delivery"
		}
		t.emit(wa.MessageReceiptUpdate{Receipts: []wa.Receipt{{
			MessageIDs: v.MessageIDs,
			Chat:       v.Chat.String(),
			Sender:     v.Sender.String(),
			Type:       receiptType,
			Timestamp:  v.Timestamp.Unix(),
		}}})

	case *events.Presence:
		presence := wa.PresenceUpdate{JID: v.From.String(), Unavailable: v.Unavailable}
		if !v.LastSeen.IsZero() {
			presence.LastSeen = v.LastSeen.Unix()
		}
		t.emit(presence)

	case *events.PushName:
		t.emit(wa.ContactsUpdate{Contacts: []wa.Contact{{
			JID:  v.JID.String(),
			Name: v.NewPushName,
		}}})

	case *events.Contact:
		t.emit(wa.ContactsUpsert{Contacts: []wa.Contact{{
			JID:  v.JID.String(),
			Name: v.Action.GetFullName(),
		}}})

	case *events.GroupInfo:
		t.translateGroupInfo(v)

	case *events.JoinedGroup:
		group := wa.Group{JID: v.JID.String(), Subject: v.Name}
		for _, participant := range v.Participants {
			group.Participants = append(group.Participants, participant.JID.String())
		}
		t.emit(wa.GroupsUpsert{Groups: []wa.Group{group}})

	case *events.HistorySync:
		t.translateHistorySync(v)

	case *events.CallOffer:
		t.emit(wa.Call{
			CallID:    v.BasicCallMeta.CallID,
			From:      v.BasicCallMeta.From.String(),
			Action:    "offer",
			Timestamp: v.BasicCallMeta.Timestamp.Unix(),
		})

	case *events.CallAccept:
		t.emit(wa.Call{
			CallID:    v.BasicCallMeta.CallID,
			From:      v.BasicCallMeta.From.String(),
			Action:    "accept",
			Timestamp: v.BasicCallMeta.Timestamp.Unix(),
		})

	case *events.CallTerminate:
		t.emit(wa.Call{
			CallID:    v.BasicCallMeta.CallID,
			From:      v.BasicCallMeta.From.String(),
			Action:    "terminate",
			Timestamp: v.BasicCallMeta.Timestamp.Unix(),
		})

	case *events.Blocklist:
		update := wa.BlocklistUpdate{Action: string(v.Action)}
		for _, change := range v.Changes {
			update.JIDs = append(update.JIDs, change.JID.String())
		}
		t.emit(update)

	case *events.AppStateSyncComplete:
		t.logger.Debug().Str("name", string(v.Name)).Msg("App state sync complete")

	case *events.OfflineSyncCompleted:
		t.logger.Debug().Int("count", v.Count).Msg("Offline sync completed")
	}
}

func (t *Transport) translateMessage(v *events.Message) wa.Message {
	key := wa.MessageKey{
		RemoteJID: v.Info.Chat.String(),
		FromMe:    v.Info.IsFromMe,
		ID:        v.Info.ID,
	}
	if v.Info.IsGroup && !v.Info.IsFromMe {
		key.Participant = v.Info.Sender.String()
	}
	return wa.Message{
		Key:       key,
		PushName:  v.Info.PushName,
		Timestamp: v.Info.Timestamp.Unix(),
		Content:   messageContent(v.Message),
	}
}

func (t *Transport) translateGroupInfo(v *events.GroupInfo) {
	if v.Name != nil {
		t.emit(wa.GroupsUpdate{Groups: []wa.Group{{
			JID:     v.JID.String(),
			Subject: v.Name.Name,
		}}})
	}
	if len(v.Join) > 0 {
		t.emit(wa.GroupParticipantsUpdate{
			JID:          v.JID.String(),
			Action:       "add",
			Participants: jidStrings(v.Join),
		})
	}
	if len(v.Leave) > 0 {
		t.emit(wa.GroupParticipantsUpdate{
			JID:          v.JID.String(),
			Action:       "remove",
			Participants: jidStrings(v.Leave),
		})
	}
}

func (t *Transport) translateHistorySync(v *events.HistorySync) {
	if v.Data == nil {
		return
	}

	set := wa.MessagingHistorySet{
		IsLatest: v.Data.GetSyncType() == waHistorySync.HistorySync_INITIAL_BOOTSTRAP,
	}
	for _, conv := range v.Data.GetConversations() {
		set.Chats = append(set.Chats, wa.Chat{
			JID:         conv.GetID(),
			Name:        conv.GetName(),
			UnreadCount: int(conv.GetUnreadCount()),
		})
	}
	for _, pushname := range v.Data.GetPushnames() {
		set.Contacts = append(set.Contacts, wa.Contact{
			JID:  pushname.GetID(),
			Name: pushname.GetPushname(),
		})
	}

	t.logger.Info().Int("chats", len(set.Chats)).Int("contacts", len(set.Contacts)).Msg("History sync received")
	t.emit(set)
}

// snapshotCreds deriva o documento de credenciais do dispositivo atual
// para manter o espelho durável em dia
func (t *Transport) snapshotCreds() *wa.Credentials {
	device := t.client.Store
	creds := &wa.Credentials{Registered: true, Platform: device.Platform}

	if device.NoiseKey != nil {
		creds.NoiseKey = &wa.KeyPair{
			Private: device.NoiseKey.Priv[:],
			Public:  device.NoiseKey.Pub[:],
		}
	}
	if device.IdentityKey != nil {
		creds.SignedIdentityKey = &wa.KeyPair{
			Private: device.IdentityKey.Priv[:],
			Public:  device.IdentityKey.Pub[:],
		}
	}
	if device.SignedPreKey != nil {
		creds.SignedPreKey = &wa.SignedKeyPair{
			KeyPair: wa.KeyPair{
				Private: device.SignedPreKey.Priv[:],
				Public:  device.SignedPreKey.Pub[:],
			},
			Signature: device.SignedPreKey.Signature[:],
			KeyID:     device.SignedPreKey.KeyID,
		}
	}
	creds.RegistrationID = device.RegistrationID
	if len(device.AdvSecretKey) > 0 {
		creds.AdvSecretKey = base64.StdEncoding.EncodeToString(device.AdvSecretKey)
	}
	if device.ID != nil {
		creds.Me = &wa.Identity{
			ID:   device.ID.String(),
			Name: device.PushName,
		}
		if !device.LID.IsEmpty() {
			creds.Me.LID = device.LID.String()
		}
	}
	return creds
}

func messageContent(msg *waE2E.Message) interface{} {
	if msg == nil {
		return nil
	}
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return nil
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil
	}
	return tree
}

func jidStrings(jids []types.JID) []string {
	out := make([]string, 0, len(jids))
	for _, jid := range jids {
		out = append(out, jid.String())
	}
	return out
}
