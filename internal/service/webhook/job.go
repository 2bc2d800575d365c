package webhook

// Job é o registro persistido nas filas de entrega
type Job struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	Event       string      `json:"event"`
	Payload     interface{} `json:"payload"`
	Timestamp   int64       `json:"ts"`
	Attempts    int         `json:"attempts"`
	LastAttempt int64       `json:"lastAttempt,omitempty"`
	Errors      []string    `json:"errors,omitempty"`
}

// recordError acrescenta a falha mantendo apenas as últimas entradas
func (j *Job) recordError(reason string) {
	j.Errors = append(j.Errors, reason)
	if len(j.Errors) > maxJobErrors {
		j.Errors = j.Errors[len(j.Errors)-maxJobErrors:]
	}
}
