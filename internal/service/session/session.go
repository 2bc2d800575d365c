// Package session implementa o supervisor de conexões: a máquina de
// estados por sessão, keep-alive, verificação de saúde, reconexão com
// backoff e o registro em memória consultado pela camada HTTP.
package session

import (
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/felipe/zegate/internal/wa"
)

// Status representa os possíveis estados de uma sessão
type Status string

const (
	StatusInit               Status = "init"
	StatusConnecting         Status = "connecting"
	StatusOpen               Status = "open"
	StatusClose              Status = "close"
	StatusInvalidCredentials Status = "invalid_credentials"
	StatusConnectionLost     Status = "connection_lost"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrNotConnected     = errors.New("session not connected")
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidSessionID verifica o formato do identificador
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Info é a visão resumida de uma sessão para listagens
type Info struct {
	ID                string `json:"id"`
	Status            Status `json:"status"`
	IsAuthenticated   bool   `json:"isAuthenticated"`
	HasQR             bool   `json:"hasQR"`
	CredentialsValid  bool   `json:"credentialsValid"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
}

// StatusView é a visão consistente computada sob demanda, cruzando o
// status registrado com o estado real do transporte e das credenciais
type StatusView struct {
	Status           Status `json:"status"`
	ActualStatus     Status `json:"actualStatus"`
	IsAuthenticated  bool   `json:"isAuthenticated"`
	CredentialsValid bool   `json:"credentialsValid"`
	WSState          string `json:"wsState"`
}

// Session é o estado de uma conexão de tenant. Os campos mutáveis são
// protegidos pelo mutex e alterados apenas pelo supervisor dono.
type Session struct {
	ID string

	mu                sync.RWMutex
	status            Status
	transport         wa.Transport
	authState         *wa.AuthState
	lastQR            string
	qrGeneratedAt     int64
	connectedAt       int64
	lastActivity      int64
	missedPongs       int
	reconnectAttempts int

	caches *Caches
}

func newSession(id string) *Session {
	return &Session{
		ID:     id,
		status: StatusInit,
		caches: NewCaches(),
	}
}

// Caches expõe o estado efêmero da sessão
func (s *Session) Caches() *Caches {
	return s.caches
}

// Status retorna o estado registrado
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Transport retorna o socket atual, se houver
func (s *Session) Transport() wa.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

func (s *Session) setTransport(transport wa.Transport) {
	s.mu.Lock()
	s.transport = transport
	s.mu.Unlock()
}

// AuthState retorna o estado de autenticação carregado
func (s *Session) AuthState() *wa.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authState
}

func (s *Session) setAuthState(state *wa.AuthState) {
	s.mu.Lock()
	s.authState = state
	s.mu.Unlock()
}

// CredentialsValid indica se o documento tem identidade utilizável
func (s *Session) CredentialsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authState != nil && s.authState.Creds.Valid()
}

// QR retorna o pairing string atual e quando foi gerado
func (s *Session) QR() (string, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQR, s.qrGeneratedAt
}

func (s *Session) setQR(qr string, generatedAt int64) {
	s.mu.Lock()
	s.lastQR = qr
	s.qrGeneratedAt = generatedAt
	s.mu.Unlock()
}

// touchActivity registra atividade vinda do protocolo
func (s *Session) touchActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now().UnixMilli()
	s.mu.Unlock()
}

// LastActivity retorna o instante da última atividade em ms
func (s *Session) LastActivity() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Session) setLastActivity(ts int64) {
	s.mu.Lock()
	s.lastActivity = ts
	s.mu.Unlock()
}

// markOpen aplica a transição para aberto: limpa o QR, zera o streak
// de reconexão e registra os instantes de conexão
func (s *Session) markOpen(now int64) {
	s.mu.Lock()
	s.status = StatusOpen
	s.lastQR = ""
	s.qrGeneratedAt = 0
	s.connectedAt = now
	s.lastActivity = now
	s.missedPongs = 0
	s.reconnectAttempts = 0
	s.mu.Unlock()
}

// ConnectedAt retorna quando a sessão abriu pela última vez
func (s *Session) ConnectedAt() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// ReconnectAttempts retorna o tamanho do streak atual
func (s *Session) ReconnectAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectAttempts
}

func (s *Session) bumpReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempts++
	return s.reconnectAttempts
}

func (s *Session) bumpMissedPongs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missedPongs++
	return s.missedPongs
}

func (s *Session) resetMissedPongs() {
	s.mu.Lock()
	s.missedPongs = 0
	s.mu.Unlock()
}

// Snapshot monta a visão resumida da sessão
func (s *Session) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:                s.ID,
		Status:            s.status,
		IsAuthenticated:   s.authState != nil && s.authState.Creds != nil && s.authState.Creds.Me != nil,
		HasQR:             s.lastQR != "",
		CredentialsValid:  s.authState != nil && s.authState.Creds.Valid(),
		ReconnectAttempts: s.reconnectAttempts,
	}
}

// View computa o status real cruzando credenciais e transporte
func (s *Session) View() StatusView {
	s.mu.RLock()
	status := s.status
	transport := s.transport
	credsValid := s.authState != nil && s.authState.Creds.Valid()
	authenticated := s.authState != nil && s.authState.Creds != nil && s.authState.Creds.Me != nil
	s.mu.RUnlock()

	writable := transport != nil && transport.IsWritable()
	wsState := "closed"
	if writable {
		wsState = "open"
	}

	actual := status
	if status == StatusOpen && !credsValid {
		actual = StatusInvalidCredentials
	} else if status == StatusOpen && !writable {
		actual = StatusClose
	}

	return StatusView{
		Status:           status,
		ActualStatus:     actual,
		IsAuthenticated:  authenticated,
		CredentialsValid: credsValid,
		WSState:          wsState,
	}
}
