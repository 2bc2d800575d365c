package wa

// DisconnectCode representa o código de status recebido no fechamento da conexão
type DisconnectCode int

const (
	CodeLoggedOut           DisconnectCode = 401
	CodeForbidden           DisconnectCode = 403
	CodeConnectionLost      DisconnectCode = 408
	CodeMultideviceMismatch DisconnectCode = 411
	CodeConnectionClosed    DisconnectCode = 428
	CodeConnectionReplaced  DisconnectCode = 440
	CodeBadSession          DisconnectCode = 500
	CodeUnavailableService  DisconnectCode = 503
	CodeRestartRequired     DisconnectCode = 515
)

// CloseAction indica o que o supervisor deve fazer após um fechamento
type CloseAction int

const (
	// ActionReconnect agenda reconexão com backoff exponencial
	ActionReconnect CloseAction = iota
	// ActionRestartNow reinicia o transporte imediatamente, sem consumir tentativa
	ActionRestartNow
	// ActionStop encerra a sessão em definitivo (credenciais inválidas)
	ActionStop
)

// Action classifica o código de desconexão na ação correspondente
func (c DisconnectCode) Action() CloseAction {
	switch c {
	case CodeLoggedOut:
		return ActionStop
	case CodeRestartRequired:
		return ActionRestartNow
	default:
		return ActionReconnect
	}
}

// IsLoggedOut indica desconexão terminal por logout remoto
func (c DisconnectCode) IsLoggedOut() bool {
	return c == CodeLoggedOut
}

func (c DisconnectCode) String() string {
	switch c {
	case CodeLoggedOut:
		return "logged_out"
	case CodeForbidden:
		return "forbidden"
	case CodeConnectionLost:
		return "connection_lost"
	case CodeMultideviceMismatch:
		return "multidevice_mismatch"
	case CodeConnectionClosed:
		return "connection_closed"
	case CodeConnectionReplaced:
		return "connection_replaced"
	case CodeBadSession:
		return "bad_session"
	case CodeUnavailableService:
		return "unavailable_service"
	case CodeRestartRequired:
		return "restart_required"
	default:
		return "unknown"
	}
}
