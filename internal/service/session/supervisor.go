package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/mdp/qrterminal/v3"

	"github.com/felipe/zegate/internal/config"
	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/service/auth"
	"github.com/felipe/zegate/internal/service/webhook"
	"github.com/felipe/zegate/internal/wa"
)

var errSupervisorStopped = errors.New("session supervisor stopped")

// Supervisor é o dono exclusivo de uma sessão: consome o fluxo de
// eventos do transporte, dirige a máquina de estados e se recupera de
// quedas. Nenhum outro componente mexe no estado da sessão.
type Supervisor struct {
	session *Session
	factory wa.Factory
	store   *auth.Store
	engine  *webhook.Engine
	filter  *webhook.Filter
	cfg     *config.Config
	logger  *logger.ComponentLogger

	backoff      *backoff.Backoff
	restartPause time.Duration

	// saveCreds e savePending são tocados apenas pela goroutine do pump
	saveCreds   auth.SaveCreds
	savePending bool

	ctx    context.Context
	cancel context.CancelFunc

	restartMu sync.Mutex

	mu             sync.Mutex
	detach         chan struct{}
	pumpDone       chan struct{}
	connCancel     context.CancelFunc
	reconnectTimer *time.Timer
	stopped        bool
}

func newSupervisor(id string, factory wa.Factory, store *auth.Store, engine *webhook.Engine, filter *webhook.Filter, cfg *config.Config) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		session: newSession(id),
		factory: factory,
		store:   store,
		engine:  engine,
		filter:  filter,
		cfg:     cfg,
		logger:  logger.ForComponent("session").WithSession(id),
		backoff: &backoff.Backoff{
			Min:    cfg.Reconnect.BaseDelay,
			Max:    cfg.Reconnect.MaxDelay,
			Factor: 1.5,
		},
		restartPause: 500 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Session expõe o estado supervisado para leitura
func (s *Supervisor) Session() *Session {
	return s.session
}

// Start carrega o estado de autenticação e estabelece o transporte
func (s *Supervisor) Start(ctx context.Context) error {
	state, save, err := s.store.Load(ctx, s.session.ID)
	if err != nil {
		return fmt.Errorf("load auth state: %w", err)
	}
	s.session.setAuthState(state)
	s.saveCreds = save
	return s.startTransport(ctx)
}

func (s *Supervisor) startTransport(ctx context.Context) error {
	transport, err := s.factory.New(ctx, s.session.ID, s.session.AuthState())
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	detach := make(chan struct{})
	done := make(chan struct{})
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		transport.Disconnect()
		return errSupervisorStopped
	}
	s.detach = detach
	s.pumpDone = done
	s.mu.Unlock()

	s.session.setTransport(transport)
	go s.pump(transport, detach, done)

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.WhatsApp.ConnectTimeout)
	defer cancel()
	if err := transport.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	return nil
}

// pump consome o fluxo de eventos do transporte. O processamento é
// serial: a ordem de entrega do protocolo é a ordem de tratamento.
func (s *Supervisor) pump(transport wa.Transport, detach, done chan struct{}) {
	defer close(done)
	events := transport.Events()
	for {
		select {
		case <-detach:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(event)
		}
	}
}

func (s *Supervisor) handleEvent(event wa.Event) {
	s.session.touchActivity()

	switch ev := event.(type) {
	case wa.ConnectionUpdate:
		s.handleConnectionUpdate(ev)
	case wa.CredsUpdate:
		s.handleCredsUpdate(ev)
	case wa.MessagesUpsert:
		s.handleMessagesUpsert(ev)
	case wa.ContactsUpsert:
		for _, contact := range ev.Contacts {
			s.session.Caches().RememberContact(contact.JID, contact.Name)
		}
		s.emit(ev)
	case wa.ContactsUpdate:
		for _, contact := range ev.Contacts {
			s.session.Caches().RememberContact(contact.JID, contact.Name)
		}
		s.emit(ev)
	case wa.GroupsUpsert:
		for _, group := range ev.Groups {
			s.session.Caches().StoreGroup(group)
		}
		s.emit(ev)
	case wa.GroupsUpdate:
		for _, group := range ev.Groups {
			s.session.Caches().StoreGroup(group)
		}
		s.emit(ev)
	default:
		s.emit(event)
	}
}

func (s *Supervisor) handleConnectionUpdate(ev wa.ConnectionUpdate) {
	if ev.QR != "" {
		s.handleQR(ev.QR)
	}

	switch ev.Connection {
	case "connecting":
		s.session.setStatus(StatusConnecting)
		s.logger.Debug().Msg("Session connecting")
	case "open":
		s.handleOpen()
	case "close":
		s.handleClose(ev)
	}

	s.emit(ev)
}

func (s *Supervisor) handleQR(qr string) {
	now := time.Now().UnixMilli()
	s.session.setQR(qr, now)
	s.logger.Info().Msg("QR code updated")

	if s.cfg.WhatsApp.ShowQRInTerminal {
		qrterminal.GenerateHalfBlock(qr, qrterminal.L, os.Stdout)
	}

	s.emit(wa.QRUpdated{
		QR:          qr,
		GeneratedAt: now,
		ExpiresAt:   now + s.cfg.WhatsApp.QRTimeout.Milliseconds(),
	})
}

func (s *Supervisor) handleCredsUpdate(ev wa.CredsUpdate) {
	if ev.Creds != nil {
		if state := s.session.AuthState(); state != nil {
			state.Creds = ev.Creds
		}
	}
	if err := s.persistCreds(); err != nil {
		s.savePending = true
		s.logger.Error().Err(err).Msg("Failed to persist credentials")
	}
}

func (s *Supervisor) persistCreds() error {
	if s.saveCreds == nil {
		return nil
	}
	saveCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.saveCreds(saveCtx); err != nil {
		return err
	}
	s.savePending = false
	return nil
}

// handleOpen aplica a transição para aberto. Credenciais ainda não
// persistidas bloqueiam a transição: a sessão é fechada e reconecta.
func (s *Supervisor) handleOpen() {
	if s.savePending {
		if err := s.persistCreds(); err != nil {
			s.logger.Error().Err(err).Msg("Credentials not persisted, refusing to open")
			if transport := s.session.Transport(); transport != nil {
				transport.Disconnect()
			}
			return
		}
	}

	if !s.session.CredentialsValid() {
		s.logger.Error().Msg("Transport opened without paired identity")
		s.session.setStatus(StatusInvalidCredentials)
		if transport := s.session.Transport(); transport != nil {
			transport.Disconnect()
		}
		return
	}

	now := time.Now().UnixMilli()
	s.session.markOpen(now)
	s.backoff.Reset()
	s.cancelReconnect()
	s.startLiveness()

	creds := s.session.AuthState().Creds
	s.logger.Info().Str("jid", creds.Me.ID).Msg("Session connected")
	s.emit(wa.SessionConnected{ID: creds.Me.ID, PushName: creds.Me.Name, ConnectedAt: now})
}

func (s *Supervisor) handleClose(ev wa.ConnectionUpdate) {
	s.stopLiveness()
	s.session.setStatus(StatusClose)

	code := ev.StatusCode
	reason := ev.Reason
	if reason == "" {
		reason = code.String()
	}
	s.logger.Warn().Int("status_code", int(code)).Str("reason", reason).Msg("Session closed")
	s.emit(wa.SessionDisconnected{StatusCode: code, Reason: reason, IsLoggedOut: code.IsLoggedOut()})

	switch code.Action() {
	case wa.ActionStop:
		s.logger.Warn().Msg("Logged out remotely, waiting for user action")
	case wa.ActionRestartNow:
		s.logger.Info().Msg("Transport requested immediate restart")
		go func() {
			if err := s.Restart(context.Background()); err != nil && !errors.Is(err, errSupervisorStopped) {
				s.logger.Error().Err(err).Msg("Immediate restart failed")
				s.scheduleReconnect()
			}
		}()
	case wa.ActionReconnect:
		s.scheduleReconnect()
	}
}

func (s *Supervisor) handleMessagesUpsert(ev wa.MessagesUpsert) {
	caches := s.session.Caches()
	for _, msg := range ev.Messages {
		caches.StoreMessage(msg)
		if msg.PushName != "" {
			caches.RememberContact(msg.Key.RemoteJID, msg.PushName)
		}
	}

	if !s.filter.ShouldSendEvent(ev.EventName()) {
		return
	}
	filtered, ok := s.filter.FilterUpsert(ev)
	if !ok {
		return
	}
	s.enqueue(filtered.EventName(), filtered)
}

func (s *Supervisor) emit(event wa.Event) {
	name := event.EventName()
	if !s.filter.ShouldSendEvent(name) {
		return
	}
	s.enqueue(name, event)
}

func (s *Supervisor) enqueue(name string, payload interface{}) {
	if _, err := s.engine.Enqueue(s.ctx, s.session.ID, name, payload); err != nil && !errors.Is(err, webhook.ErrNoSink) {
		s.logger.Error().Err(err).Str("event", name).Msg("Failed to enqueue webhook")
	}
}

// scheduleReconnect agenda a próxima tentativa com backoff exponencial
func (s *Supervisor) scheduleReconnect() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	if !s.cfg.Reconnect.Auto {
		s.session.setStatus(StatusConnectionLost)
		s.logger.Warn().Msg("Auto reconnect disabled, session marked lost")
		return
	}

	attempts := s.session.bumpReconnectAttempts()
	if attempts > s.cfg.Reconnect.MaxAttempts {
		s.session.setStatus(StatusConnectionLost)
		s.logger.Error().Int("attempts", attempts-1).Msg("Max reconnect attempts reached, giving up")
		return
	}

	delay := s.backoff.ForAttempt(float64(attempts - 1))
	s.logger.Info().Int("attempt", attempts).Dur("delay", delay).Msg("Reconnect scheduled")

	s.mu.Lock()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(delay, func() {
		if err := s.Restart(context.Background()); err != nil && !errors.Is(err, errSupervisorStopped) {
			s.logger.Error().Err(err).Msg("Reconnect failed")
			s.scheduleReconnect()
		}
	})
	s.mu.Unlock()
}

func (s *Supervisor) cancelReconnect() {
	s.mu.Lock()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.mu.Unlock()
}

func (s *Supervisor) startLiveness() {
	s.mu.Lock()
	if s.connCancel != nil {
		s.connCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.connCancel = cancel
	s.mu.Unlock()

	transport := s.session.Transport()
	go s.keepAlive(ctx, transport)
	go s.healthCheck(ctx, transport)
}

func (s *Supervisor) stopLiveness() {
	s.mu.Lock()
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	s.mu.Unlock()
}

// keepAlive prova o socket em intervalos fixos. Pings sem resposta
// acumulam até o limite, quando a conexão é declarada morta.
func (s *Supervisor) keepAlive(ctx context.Context, transport wa.Transport) {
	ticker := time.NewTicker(s.cfg.KeepAlive.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.session.Status() != StatusOpen || !transport.IsWritable() {
				continue
			}

			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.KeepAlive.PongTimeout)
			err := transport.Ping(pingCtx)
			cancel()
			if err == nil {
				s.session.resetMissedPongs()
				s.session.touchActivity()
				continue
			}

			missed := s.session.bumpMissedPongs()
			s.logger.Warn().Int("missed_pongs", missed).Msg("Keep-alive ping not answered")
			if missed >= s.cfg.KeepAlive.MaxMissedPongs {
				s.logger.Warn().Msg("Connection declared dead, forcing close")
				transport.Disconnect()
				return
			}
		}
	}
}

// healthCheck detecta falhas silenciosas: sessões ociosas além do
// limite fazem uma ida e volta de presença para provar a conexão
func (s *Supervisor) healthCheck(ctx context.Context, transport wa.Transport) {
	ticker := time.NewTicker(s.cfg.HealthCheck.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.session.Status() == StatusOpen && !transport.IsWritable() {
				s.logger.Warn().Msg("Status open but transport not writable, fixing status")
				s.session.setStatus(StatusClose)
				continue
			}
			if s.session.Status() != StatusOpen {
				continue
			}

			idle := time.Now().UnixMilli() - s.session.LastActivity()
			if idle <= s.cfg.HealthCheck.MaxIdleTime.Milliseconds() {
				continue
			}

			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := transport.PresenceRoundTrip(probeCtx)
			cancel()
			if err != nil {
				s.logger.Warn().Err(err).Int64("idle_ms", idle).Msg("Idle probe failed, forcing close")
				transport.Disconnect()
				return
			}
			s.session.touchActivity()
		}
	}
}

// Restart fecha o transporte atual e cria um novo com o mesmo estado
// de autenticação
func (s *Supervisor) Restart(ctx context.Context) error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errSupervisorStopped
	}
	s.mu.Unlock()

	s.logger.Info().Msg("Restarting session")
	s.cancelReconnect()
	s.stopLiveness()
	s.detachPump()

	if transport := s.session.Transport(); transport != nil {
		transport.Disconnect()
		s.waitPumpDone(2 * time.Second)
		s.session.setTransport(nil)
	}

	time.Sleep(s.restartPause)

	s.session.setQR("", 0)
	s.session.setStatus(StatusInit)
	return s.startTransport(ctx)
}

func (s *Supervisor) detachPump() {
	s.mu.Lock()
	if s.detach != nil {
		close(s.detach)
		s.detach = nil
	}
	s.mu.Unlock()
}

func (s *Supervisor) waitPumpDone(timeout time.Duration) {
	s.mu.Lock()
	done := s.pumpDone
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn().Msg("Timed out waiting for event pump to stop")
	}
}

// Logout desautentica no servidor remoto e apaga o material persistido
func (s *Supervisor) Logout(ctx context.Context) error {
	s.mu.Lock()
	alreadyStopped := s.stopped
	s.stopped = true
	s.mu.Unlock()

	s.cancelReconnect()
	s.stopLiveness()
	s.detachPump()

	if transport := s.session.Transport(); transport != nil {
		if !alreadyStopped {
			if err := transport.Logout(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Remote logout failed")
			}
		}
		transport.Disconnect()
		s.waitPumpDone(2 * time.Second)
		s.session.setTransport(nil)
	}

	if err := s.store.Wipe(ctx, s.session.ID); err != nil {
		return fmt.Errorf("wipe credentials: %w", err)
	}
	s.session.setStatus(StatusClose)
	s.cancel()
	s.logger.Info().Msg("Session logged out")
	return nil
}

// Shutdown fecha o transporte sem invalidar credenciais
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancelReconnect()
	s.stopLiveness()
	s.detachPump()

	if transport := s.session.Transport(); transport != nil {
		transport.Disconnect()
		s.waitPumpDone(2 * time.Second)
	}
	s.session.setStatus(StatusClose)
	s.cancel()
	s.logger.Info().Msg("Session supervisor stopped")
}

// SendText envia texto pela sessão, recusando sem credenciais válidas
// ou sem socket aberto
func (s *Supervisor) SendText(ctx context.Context, to, text string) (string, error) {
	if !s.session.CredentialsValid() {
		return "", wa.ErrCredentialsInvalid
	}
	transport := s.session.Transport()
	if s.session.Status() != StatusOpen || transport == nil || !transport.IsWritable() {
		return "", ErrNotConnected
	}

	address := wa.ToAddress(to)
	id, err := transport.SendText(ctx, address, text)
	if err != nil {
		return "", err
	}

	s.session.touchActivity()
	s.session.Caches().StoreMessage(wa.Message{
		Key:       wa.MessageKey{RemoteJID: address, FromMe: true, ID: id},
		Timestamp: time.Now().Unix(),
		Content:   map[string]interface{}{"conversation": text},
	})
	return id, nil
}

// PairPhone solicita o código de pareamento para o número informado
func (s *Supervisor) PairPhone(ctx context.Context, phone string) (string, error) {
	transport := s.session.Transport()
	if transport == nil {
		return "", ErrNotConnected
	}

	digits := onlyDigits(phone)
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: %q", phone)
	}
	return transport.RequestPairingCode(ctx, digits)
}

func onlyDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
