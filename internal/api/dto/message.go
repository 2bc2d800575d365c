package dto

// SendTextRequest envia uma mensagem de texto simples
type SendTextRequest struct {
	To   string `json:"to" validate:"required,min=5,max=64"`
	Text string `json:"text" validate:"required,min=1,max=65536"`
}

// SendTextResponse confirma o envio com o id gerado pelo protocolo
type SendTextResponse struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}
