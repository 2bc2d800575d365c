package dto

// RetryFailedRequest move jobs da fila morta de volta para a fila ativa
type RetryFailedRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=1000"`
}

// RetryFailedResponse informa quantos jobs foram reenfileirados
type RetryFailedResponse struct {
	Requeued int `json:"requeued"`
}
