package wa

// Event é a soma tipada de todos os eventos do protocolo.
// O nome retornado por EventName é o usado no filtro e no corpo do webhook.
type Event interface {
	EventName() string
}

// MessageKey identifica uma mensagem dentro de um chat
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// Message representa uma mensagem recebida ou sincronizada
type Message struct {
	Key       MessageKey  `json:"key"`
	PushName  string      `json:"pushName,omitempty"`
	Timestamp int64       `json:"messageTimestamp,omitempty"`
	Content   interface{} `json:"message,omitempty"`
}

// Contact representa a entrada de um contato no catálogo
type Contact struct {
	JID  string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Chat representa uma conversa
type Chat struct {
	JID         string `json:"id"`
	Name        string `json:"name,omitempty"`
	UnreadCount int    `json:"unreadCount,omitempty"`
}

// Group representa os metadados de um grupo
type Group struct {
	JID          string   `json:"id"`
	Subject      string   `json:"subject,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// Receipt representa confirmações de entrega ou leitura
type Receipt struct {
	MessageIDs []string `json:"messageIds"`
	Chat       string   `json:"chat"`
	Sender     string   `json:"sender,omitempty"`
	Type       string   `json:"type"`
	Timestamp  int64    `json:"timestamp"`
}

// Reaction representa uma reação aplicada a uma mensagem
type Reaction struct {
	Key    MessageKey `json:"key"`
	Text   string     `json:"text"`
	Sender string     `json:"sender,omitempty"`
}

// ConnectionUpdate reflete mudanças de estado do socket
type ConnectionUpdate struct {
	Connection string         `json:"connection,omitempty"`
	QR         string         `json:"qr,omitempty"`
	StatusCode DisconnectCode `json:"statusCode,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

func (ConnectionUpdate) EventName() string { return "connection.update" }

// CredsUpdate sinaliza que as credenciais mudaram e precisam ser persistidas.
// Uso interno do supervisor, nunca entregue ao sink.
type CredsUpdate struct {
	Creds *Credentials `json:"-"`
}

func (CredsUpdate) EventName() string { return "creds.update" }

// QRUpdated é emitido pelo supervisor quando um novo QR fica disponível
type QRUpdated struct {
	QR          string `json:"qr"`
	GeneratedAt int64  `json:"generatedAt"`
	ExpiresAt   int64  `json:"expiresAt"`
}

func (QRUpdated) EventName() string { return "qr.updated" }

// SessionConnected é emitido pelo supervisor quando a sessão abre
type SessionConnected struct {
	ID          string `json:"id,omitempty"`
	PushName    string `json:"pushName,omitempty"`
	ConnectedAt int64  `json:"connectedAt"`
}

func (SessionConnected) EventName() string { return "session.connected" }

// SessionDisconnected é emitido pelo supervisor quando a sessão fecha
type SessionDisconnected struct {
	StatusCode  DisconnectCode `json:"statusCode,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	IsLoggedOut bool           `json:"isLoggedOut"`
}

func (SessionDisconnected) EventName() string { return "session.disconnected" }

type MessagesUpsert struct {
	Messages []Message `json:"messages"`
	Type     string    `json:"type,omitempty"`
}

func (MessagesUpsert) EventName() string { return "messages.upsert" }

type MessageUpdate struct {
	Key    MessageKey  `json:"key"`
	Update interface{} `json:"update,omitempty"`
}

type MessagesUpdate struct {
	Updates []MessageUpdate `json:"updates"`
}

func (MessagesUpdate) EventName() string { return "messages.update" }

type MessagesDelete struct {
	Keys []MessageKey `json:"keys"`
}

func (MessagesDelete) EventName() string { return "messages.delete" }

type MessagesReaction struct {
	Reactions []Reaction `json:"reactions"`
}

func (MessagesReaction) EventName() string { return "messages.reaction" }

type MessageReceiptUpdate struct {
	Receipts []Receipt `json:"receipts"`
}

func (MessageReceiptUpdate) EventName() string { return "message-receipt.update" }

type ChatsUpsert struct {
	Chats []Chat `json:"chats"`
}

func (ChatsUpsert) EventName() string { return "chats.upsert" }

type ChatsUpdate struct {
	Chats []Chat `json:"chats"`
}

func (ChatsUpdate) EventName() string { return "chats.update" }

type ChatsDelete struct {
	JIDs []string `json:"ids"`
}

func (ChatsDelete) EventName() string { return "chats.delete" }

type ContactsUpsert struct {
	Contacts []Contact `json:"contacts"`
}

func (ContactsUpsert) EventName() string { return "contacts.upsert" }

type ContactsUpdate struct {
	Contacts []Contact `json:"contacts"`
}

func (ContactsUpdate) EventName() string { return "contacts.update" }

type GroupsUpsert struct {
	Groups []Group `json:"groups"`
}

func (GroupsUpsert) EventName() string { return "groups.upsert" }

type GroupsUpdate struct {
	Groups []Group `json:"groups"`
}

func (GroupsUpdate) EventName() string { return "groups.update" }

type GroupParticipantsUpdate struct {
	JID          string   `json:"id"`
	Action       string   `json:"action"`
	Participants []string `json:"participants"`
}

func (GroupParticipantsUpdate) EventName() string { return "group-participants.update" }

type MessagingHistorySet struct {
	Chats    []Chat    `json:"chats,omitempty"`
	Contacts []Contact `json:"contacts,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	IsLatest bool      `json:"isLatest,omitempty"`
}

func (MessagingHistorySet) EventName() string { return "messaging-history.set" }

type PresenceUpdate struct {
	JID         string `json:"id"`
	Unavailable bool   `json:"unavailable,omitempty"`
	LastSeen    int64  `json:"lastSeen,omitempty"`
}

func (PresenceUpdate) EventName() string { return "presence.update" }

type Call struct {
	CallID    string `json:"callId,omitempty"`
	From      string `json:"from"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (Call) EventName() string { return "call" }

type BlocklistSet struct {
	JIDs []string `json:"blocklist"`
}

func (BlocklistSet) EventName() string { return "blocklist.set" }

type BlocklistUpdate struct {
	Action string   `json:"action"`
	JIDs   []string `json:"blocklist"`
}

func (BlocklistUpdate) EventName() string { return "blocklist.update" }
