package dto

// PairPhoneRequest solicita o pareamento por código numérico
type PairPhoneRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,min=8,max=32"`
}

// PairPhoneResponse devolve o código a ser digitado no aparelho
type PairPhoneResponse struct {
	SessionID   string `json:"sessionId"`
	PairingCode string `json:"pairingCode"`
}

// QRCodeResponse entrega o pairing string atual e a imagem PNG embutida
type QRCodeResponse struct {
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	QRCode      string `json:"qrCode,omitempty"`
	QRImage     string `json:"qrImage,omitempty"`
	GeneratedAt int64  `json:"generatedAt,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
}
