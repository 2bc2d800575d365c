// Package dto define os contratos de requisição e resposta da API HTTP.
package dto

import "time"

// BaseResponse é o envelope padrão das respostas de sucesso
type BaseResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ErrorResponse é o envelope padrão das respostas de erro
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func NewSuccessResponse(message string, data interface{}) *BaseResponse {
	return &BaseResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

func NewErrorResponse(code, message string, status int) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     code,
		Message:   message,
		Status:    status,
		Timestamp: time.Now().Unix(),
	}
}
