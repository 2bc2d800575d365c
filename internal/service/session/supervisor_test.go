package session

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipe/zegate/internal/config"
	"github.com/felipe/zegate/internal/kv"
	"github.com/felipe/zegate/internal/service/auth"
	"github.com/felipe/zegate/internal/service/webhook"
	"github.com/felipe/zegate/internal/wa"
)

// memoryKV implementa kv.Store em memória para testes
type memoryKV struct {
	mu    sync.Mutex
	data  map[string]string
	lists map[string][]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string]string), lists: make(map[string][]string)}
}

func (m *memoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return "", kv.ErrNotFound
	}
	return value, nil
}

func (m *memoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryKV) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryKV) SetBatch(ctx context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range entries {
		m.data[key] = value
	}
	return nil
}

func (m *memoryKV) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.data {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memoryKV) PushHead(ctx context.Context, list string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, value := range values {
		m.lists[list] = append([]string{value}, m.lists[list]...)
	}
	return nil
}

func (m *memoryKV) MoveTailToHead(ctx context.Context, source, destination string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[source]
	if len(items) == 0 {
		return "", kv.ErrNotFound
	}
	value := items[len(items)-1]
	m.lists[source] = items[:len(items)-1]
	m.lists[destination] = append([]string{value}, m.lists[destination]...)
	return value, nil
}

func (m *memoryKV) Remove(ctx context.Context, list, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[list]
	for i, item := range items {
		if item == value {
			m.lists[list] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memoryKV) PopTail(ctx context.Context, list string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[list]
	if len(items) == 0 {
		return "", kv.ErrNotFound
	}
	value := items[len(items)-1]
	m.lists[list] = items[:len(items)-1]
	return value, nil
}

func (m *memoryKV) Len(ctx context.Context, list string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[list])), nil
}

func (m *memoryKV) Ping(ctx context.Context) error { return nil }
func (m *memoryKV) Close() error                   { return nil }

func (m *memoryKV) hasKey(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// fakeTransport implementa wa.Transport para testes. Disconnect imita o
// adaptador real: emite o evento de fechamento e encerra o canal.
type fakeTransport struct {
	mu            sync.Mutex
	events        chan wa.Event
	closed        bool
	writable      bool
	connectErr    error
	pingErr       error
	presenceErr   error
	presenceCalls int
	sent          []string
	loggedOut     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan wa.Event, 64), writable: true}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.writable = false
	f.events <- wa.ConnectionUpdate{Connection: "close", StatusCode: wa.CodeConnectionLost, Reason: "connection closed"}
	close(f.events)
}

func (f *fakeTransport) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeTransport) Events() <-chan wa.Event {
	return f.events
}

func (f *fakeTransport) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeTransport) PresenceRoundTrip(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presenceCalls++
	return f.presenceErr
}

func (f *fakeTransport) SendText(ctx context.Context, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+"|"+text)
	return "3EB0C431C26A1916E07E", nil
}

func (f *fakeTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "ABCD-1234", nil
}

func (f *fakeTransport) IsWritable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writable && !f.closed
}

func (f *fakeTransport) emit(ev wa.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- ev
}

func (f *fakeTransport) setWritable(writable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writable = writable
}

func (f *fakeTransport) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeTransport) setPresenceErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presenceErr = err
}

func (f *fakeTransport) presences() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presenceCalls
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeFactory implementa wa.Factory e registra os transportes criados
type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	states     []*wa.AuthState
	newErr     error
	connectErr error
}

func (f *fakeFactory) New(ctx context.Context, sessionID string, state *wa.AuthState) (wa.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	transport := newFakeTransport()
	transport.connectErr = f.connectErr
	f.transports = append(f.transports, transport)
	f.states = append(f.states, state)
	return transport, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

func (f *fakeFactory) failConnections(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func testConfig() *config.Config {
	return &config.Config{
		WhatsApp: config.WhatsAppConfig{
			ConnectTimeout: 2 * time.Second,
			QRTimeout:      60 * time.Second,
		},
		KeepAlive: config.KeepAliveConfig{
			PingInterval:   time.Hour,
			PongTimeout:    50 * time.Millisecond,
			MaxMissedPongs: 3,
		},
		HealthCheck: config.HealthCheckConfig{
			Interval:    time.Hour,
			MaxIdleTime: 5 * time.Minute,
		},
		Reconnect: config.ReconnectConfig{
			Auto:        true,
			MaxAttempts: 10,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    100 * time.Millisecond,
		},
		Webhook: config.WebhookConfig{
			URL:          "http://sink.invalid/hook",
			SkipStatus:   true,
			SkipChannels: true,
			Timeout:      time.Second,
			MaxRetries:   3,
			RetryDelay:   10 * time.Millisecond,
			BatchSize:    10,
		},
	}
}

// newTestSupervisor monta um supervisor sobre fakes. O motor de webhook
// não é iniciado: os jobs ficam na fila para inspeção.
func newTestSupervisor(t *testing.T, cfg *config.Config) (*Supervisor, *fakeFactory, *memoryKV) {
	t.Helper()

	mem := newMemoryKV()
	store := auth.NewStore(mem)
	engine := webhook.NewEngine(mem, cfg.Webhook)
	filter := webhook.NewFilter(cfg.Webhook)
	factory := &fakeFactory{}

	sup := newSupervisor("alpha", factory, store, engine, filter, cfg)
	sup.restartPause = 5 * time.Millisecond
	t.Cleanup(sup.Shutdown)
	return sup, factory, mem
}

func pairedCredentials() *wa.Credentials {
	return &wa.Credentials{
		Registered: true,
		Me:         &wa.Identity{ID: "5511999999999:12@s.whatsapp.net", Name: "Zé"},
	}
}

func openSession(t *testing.T, sup *Supervisor, transport *fakeTransport) {
	t.Helper()
	transport.emit(wa.CredsUpdate{Creds: pairedCredentials()})
	transport.emit(wa.ConnectionUpdate{Connection: "open"})
	require.Eventually(t, func() bool {
		return sup.Session().Status() == StatusOpen
	}, time.Second, 5*time.Millisecond)
}

type queuedJob struct {
	SessionID string                 `json:"sessionId"`
	Event     string                 `json:"event"`
	Payload   map[string]interface{} `json:"payload"`
}

// queuedJobs devolve a fila de webhooks em ordem de chegada
func queuedJobs(mem *memoryKV) []queuedJob {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	items := mem.lists["webhook:queue"]
	jobs := make([]queuedJob, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var job queuedJob
		if err := json.Unmarshal([]byte(items[i]), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func findJob(mem *memoryKV, event string) (queuedJob, bool) {
	for _, job := range queuedJobs(mem) {
		if job.Event == event {
			return job, true
		}
	}
	return queuedJob{}, false
}

func TestReconnectDelayLadder(t *testing.T) {
	b := &backoff.Backoff{Min: 5 * time.Second, Max: 60 * time.Second, Factor: 1.5}

	expected := []time.Duration{
		5 * time.Second,
		7500 * time.Millisecond,
		11250 * time.Millisecond,
		16875 * time.Millisecond,
		25312500 * time.Microsecond,
	}
	for attempt, want := range expected {
		assert.Equal(t, want, b.ForAttempt(float64(attempt)), "attempt %d", attempt+1)
	}

	// A partir da décima tentativa o teto de 60s domina
	assert.Equal(t, 60*time.Second, b.ForAttempt(9))
}

func TestSupervisor_OpenFlowPersistsCredentialsAndEmits(t *testing.T) {
	sup, factory, mem := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))
	require.Equal(t, 1, factory.count())

	openSession(t, sup, factory.transport(0))

	info := sup.Session().Snapshot()
	assert.Equal(t, StatusOpen, info.Status)
	assert.True(t, info.IsAuthenticated)
	assert.True(t, info.CredentialsValid)
	assert.Equal(t, 0, info.ReconnectAttempts)
	assert.Equal(t, "open", sup.Session().View().WSState)

	// Credenciais persistidas antes da transição para aberto
	assert.True(t, mem.hasKey("wa:alpha:creds"))

	job, ok := findJob(mem, "session.connected")
	require.True(t, ok)
	assert.Equal(t, "alpha", job.SessionID)
	assert.Equal(t, "5511999999999:12@s.whatsapp.net", job.Payload["id"])

	_, ok = findJob(mem, "connection.update")
	assert.True(t, ok)
}

func TestSupervisor_QRFlowEmitsWithExpiry(t *testing.T) {
	sup, factory, mem := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))

	factory.transport(0).emit(wa.ConnectionUpdate{Connection: "connecting", QR: "2@qr-payload-one"})

	require.Eventually(t, func() bool {
		_, ok := findJob(mem, "qr.updated")
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StatusConnecting, sup.Session().Status())
	assert.True(t, sup.Session().Snapshot().HasQR)

	job, _ := findJob(mem, "qr.updated")
	assert.Equal(t, "2@qr-payload-one", job.Payload["qr"])
	generated := job.Payload["generatedAt"].(float64)
	expires := job.Payload["expiresAt"].(float64)
	assert.Equal(t, float64(60000), expires-generated)
}

func TestSupervisor_ReconnectsAfterConnectionLost(t *testing.T) {
	sup, factory, mem := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	factory.transport(0).emit(wa.ConnectionUpdate{Connection: "close", StatusCode: wa.CodeConnectionLost, Reason: "stream errored"})

	require.Eventually(t, func() bool {
		return factory.count() == 2
	}, 2*time.Second, 5*time.Millisecond)

	job, ok := findJob(mem, "session.disconnected")
	require.True(t, ok)
	assert.Equal(t, float64(wa.CodeConnectionLost), job.Payload["statusCode"])
	assert.Equal(t, false, job.Payload["isLoggedOut"])

	// O novo transporte parte do estado limpo e reabre normalmente
	openSession(t, sup, factory.transport(1))
	assert.Equal(t, 0, sup.Session().ReconnectAttempts())
}

func TestSupervisor_RestartRequiredDoesNotConsumeAttempt(t *testing.T) {
	sup, factory, _ := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	factory.transport(0).emit(wa.ConnectionUpdate{Connection: "close", StatusCode: wa.CodeRestartRequired})

	require.Eventually(t, func() bool {
		return factory.count() == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, sup.Session().ReconnectAttempts())
	assert.True(t, factory.transport(0).isClosed())
}

func TestSupervisor_LoggedOutStopsReconnecting(t *testing.T) {
	sup, factory, mem := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	factory.transport(0).emit(wa.ConnectionUpdate{Connection: "close", StatusCode: wa.CodeLoggedOut, Reason: "logged out from phone"})

	require.Eventually(t, func() bool {
		job, ok := findJob(mem, "session.disconnected")
		return ok && job.Payload["isLoggedOut"] == true
	}, time.Second, 5*time.Millisecond)

	// Nenhum transporte novo e as credenciais continuam persistidas
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, factory.count())
	assert.True(t, mem.hasKey("wa:alpha:creds"))
	assert.Equal(t, StatusClose, sup.Session().Status())
}

func TestSupervisor_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 2
	sup, factory, _ := newTestSupervisor(t, cfg)
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	factory.failConnections(errors.New("dial refused"))
	factory.transport(0).emit(wa.ConnectionUpdate{Connection: "close", StatusCode: wa.CodeConnectionLost})

	require.Eventually(t, func() bool {
		return sup.Session().Status() == StatusConnectionLost
	}, 3*time.Second, 10*time.Millisecond)

	// Transporte original mais uma criação por tentativa
	assert.Equal(t, 1+cfg.Reconnect.MaxAttempts, factory.count())
}

func TestSupervisor_KeepAliveForcesCloseAfterMissedPongs(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAlive.PingInterval = 15 * time.Millisecond
	cfg.Reconnect.Auto = false
	sup, factory, _ := newTestSupervisor(t, cfg)
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	factory.transport(0).setPingErr(errors.New("pong timeout"))

	require.Eventually(t, func() bool {
		return sup.Session().Status() == StatusConnectionLost
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, factory.transport(0).isClosed())
	assert.Equal(t, 1, factory.count())
}

func TestSupervisor_HealthCheckFixesStatusMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.HealthCheck.Interval = 15 * time.Millisecond
	cfg.Reconnect.Auto = false
	sup, factory, _ := newTestSupervisor(t, cfg)
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	factory.transport(0).setWritable(false)

	require.Eventually(t, func() bool {
		return sup.Session().Status() == StatusClose
	}, time.Second, 5*time.Millisecond)
	assert.False(t, factory.transport(0).isClosed())
}

func TestSupervisor_HealthCheckProbesIdleSession(t *testing.T) {
	cfg := testConfig()
	cfg.HealthCheck.Interval = 15 * time.Millisecond
	cfg.HealthCheck.MaxIdleTime = 30 * time.Millisecond
	cfg.Reconnect.Auto = false
	sup, factory, _ := newTestSupervisor(t, cfg)
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	// Sessão ociosa responde à sonda de presença e permanece aberta
	require.Eventually(t, func() bool {
		return factory.transport(0).presences() >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusOpen, sup.Session().Status())

	// Sonda falhando derruba a conexão
	factory.transport(0).setPresenceErr(errors.New("no presence ack"))
	sup.Session().setLastActivity(time.Now().Add(-time.Minute).UnixMilli())

	require.Eventually(t, func() bool {
		return factory.transport(0).isClosed()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSupervisor_RestartKeepsAuthState(t *testing.T) {
	sup, factory, _ := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	require.NoError(t, sup.Restart(context.Background()))

	require.Equal(t, 2, factory.count())
	assert.True(t, factory.transport(0).isClosed())
	assert.Same(t, factory.states[0], factory.states[1])
	assert.Equal(t, StatusInit, sup.Session().Status())
	assert.False(t, sup.Session().Snapshot().HasQR)
}

func TestSupervisor_LogoutWipesCredentials(t *testing.T) {
	sup, factory, mem := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))
	require.True(t, mem.hasKey("wa:alpha:creds"))

	require.NoError(t, sup.Logout(context.Background()))

	assert.True(t, factory.transport(0).loggedOut)
	assert.True(t, factory.transport(0).isClosed())
	assert.False(t, mem.hasKey("wa:alpha:creds"))
	assert.Equal(t, StatusClose, sup.Session().Status())
}

func TestSupervisor_SendTextGuards(t *testing.T) {
	sup, factory, _ := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))

	// Sem identidade pareada o envio é recusado
	_, err := sup.SendText(context.Background(), "5511888888888", "oi")
	assert.ErrorIs(t, err, wa.ErrCredentialsInvalid)

	openSession(t, sup, factory.transport(0))

	id, err := sup.SendText(context.Background(), "+55 (11) 8888-8888", "olá!")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"551188888888@s.whatsapp.net|olá!"}, factory.transport(0).sentMessages())

	// Mensagem enviada fica no cache da sessão
	cached, ok := sup.Session().Caches().Message("3EB0C431C26A1916E07E")
	require.True(t, ok)
	assert.True(t, cached.Key.FromMe)

	factory.transport(0).setWritable(false)
	_, err = sup.SendText(context.Background(), "5511888888888", "oi")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSupervisor_MessagesUpsertCachesAndFilters(t *testing.T) {
	sup, factory, mem := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	factory.transport(0).emit(wa.MessagesUpsert{
		Type: "notify",
		Messages: []wa.Message{
			{
				Key:      wa.MessageKey{RemoteJID: "status@broadcast", ID: "STATUS1"},
				PushName: "Maria",
				Content:  map[string]interface{}{"conversation": "story"},
			},
			{
				Key:      wa.MessageKey{RemoteJID: "5511777777777@s.whatsapp.net", ID: "MSG1"},
				PushName: "João",
				Content:  map[string]interface{}{"conversation": "bom dia"},
			},
		},
	})

	require.Eventually(t, func() bool {
		_, ok := findJob(mem, "messages.upsert")
		return ok
	}, time.Second, 5*time.Millisecond)

	// As duas mensagens entram no cache, só a elegível vai ao webhook
	_, ok := sup.Session().Caches().Message("STATUS1")
	assert.True(t, ok)
	name, ok := sup.Session().Caches().ContactName("5511777777777@s.whatsapp.net")
	require.True(t, ok)
	assert.Equal(t, "João", name)

	job, _ := findJob(mem, "messages.upsert")
	messages := job.Payload["messages"].([]interface{})
	require.Len(t, messages, 1)
	first := messages[0].(map[string]interface{})
	key := first["key"].(map[string]interface{})
	assert.Equal(t, "5511777777777@s.whatsapp.net", key["remoteJid"])
}

func TestSupervisor_GroupEventsCacheMetadata(t *testing.T) {
	sup, factory, mem := newTestSupervisor(t, testConfig())
	require.NoError(t, sup.Start(context.Background()))
	openSession(t, sup, factory.transport(0))

	factory.transport(0).emit(wa.GroupsUpsert{Groups: []wa.Group{{
		JID:          "120363025246125486@g.us",
		Subject:      "Plantão",
		Participants: []string{"5511777777777@s.whatsapp.net"},
	}}})

	require.Eventually(t, func() bool {
		_, ok := findJob(mem, "groups.upsert")
		return ok
	}, time.Second, 5*time.Millisecond)

	group, ok := sup.Session().Caches().Group("120363025246125486@g.us")
	require.True(t, ok)
	assert.Equal(t, "Plantão", group.Subject)

	// A atualização de nome sobrescreve o cache
	factory.transport(0).emit(wa.GroupsUpdate{Groups: []wa.Group{{
		JID:     "120363025246125486@g.us",
		Subject: "Plantão Noturno",
	}}})

	require.Eventually(t, func() bool {
		group, ok := sup.Session().Caches().Group("120363025246125486@g.us")
		return ok && group.Subject == "Plantão Noturno"
	}, time.Second, 5*time.Millisecond)
}
