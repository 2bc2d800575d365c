// Package wa define o vocabulário do protocolo: transporte, eventos
// tipados, credenciais e endereços. As demais camadas dependem apenas
// destes contratos, nunca da biblioteca de protocolo diretamente.
package wa

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected indica operação de saída sem socket aberto
	ErrNotConnected = errors.New("transport not connected")
	// ErrCredentialsInvalid indica documento sem identidade pareada
	ErrCredentialsInvalid = errors.New("credentials invalid: missing paired identity")
	// ErrPairingUnavailable indica que o pareamento por código não está disponível
	ErrPairingUnavailable = errors.New("pairing code unavailable in current state")
)

// Transport é o socket fornecido pela biblioteca de protocolo.
// Eventos chegam exclusivamente pelo canal retornado por Events;
// o transporte nunca chama de volta o supervisor.
type Transport interface {
	// Connect estabelece a conexão e inicia o fluxo de autenticação
	Connect(ctx context.Context) error

	// Disconnect fecha o socket sem invalidar as credenciais
	Disconnect()

	// Logout desautentica o dispositivo no servidor remoto
	Logout(ctx context.Context) error

	// Events entrega o fluxo tipado de eventos do protocolo.
	// O fim da conexão é sinalizado por um ConnectionUpdate de
	// fechamento; o transporte pode ou não fechar o canal depois disso.
	Events() <-chan Event

	// Ping executa um ping no nível do socket
	Ping(ctx context.Context) error

	// PresenceRoundTrip executa uma ida e volta barata no protocolo
	// para provar que a conexão responde
	PresenceRoundTrip(ctx context.Context) error

	// SendText envia uma mensagem de texto e retorna o id gerado
	SendText(ctx context.Context, to string, text string) (string, error)

	// RequestPairingCode solicita pareamento por código numérico
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// IsWritable indica se o socket aceita escrita neste momento
	IsWritable() bool
}

// Factory constrói transportes para uma sessão a partir do estado de
// autenticação persistido
type Factory interface {
	New(ctx context.Context, sessionID string, state *AuthState) (Transport, error)
}
