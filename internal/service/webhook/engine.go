// Package webhook implementa a entrega confiável de eventos para o sink
// HTTP configurado: fila FIFO durável, um único worker por processo,
// retry com backoff exponencial e fila de mortos.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/felipe/zegate/internal/config"
	"github.com/felipe/zegate/internal/kv"
	"github.com/felipe/zegate/internal/logger"
)

const (
	queueKey      = "webhook:queue"
	processingKey = "webhook:processing"
	failedKey     = "webhook:failed"

	defaultIdleSleep = 1 * time.Second
	maxJobErrors     = 10
)

// ErrNoSink indica que nenhuma URL de entrega está configurada
var ErrNoSink = errors.New("webhook: no sink configured")

// Stats resume o estado das filas
type Stats struct {
	Pending      int64 `json:"pending"`
	Processing   int64 `json:"processing"`
	Failed       int64 `json:"failed"`
	IsProcessing bool  `json:"isProcessing"`
}

// Engine consome a fila e posta os eventos no sink
type Engine struct {
	store  kv.Store
	client *resty.Client
	logger *logger.ComponentLogger

	sinkURL    string
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	idleSleep  time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// queued carrega o job decodificado junto com a representação exata
// persistida, necessária para o ack na lista de processamento
type queued struct {
	raw string
	job Job
}

// NewEngine cria o motor de entrega a partir da configuração
func NewEngine(store kv.Store, cfg config.WebhookConfig) *Engine {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "ZeGate-Webhook/1.0")

	switch cfg.AuthType {
	case "basic":
		client.SetBasicAuth(cfg.AuthUser, cfg.AuthPassword)
	case "token":
		client.SetAuthScheme("Token")
		client.SetAuthToken(cfg.AuthToken)
	case "bearer":
		client.SetAuthToken(cfg.AuthToken)
	}

	return &Engine{
		store:      store,
		client:     client,
		logger:     logger.ForComponent("webhook"),
		sinkURL:    cfg.URL,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		idleSleep:  defaultIdleSleep,
	}
}

// Enabled indica se há sink configurado
func (e *Engine) Enabled() bool {
	return e.sinkURL != ""
}

// Enqueue registra um evento para entrega e retorna o id do job
func (e *Engine) Enqueue(ctx context.Context, sessionID, event string, payload interface{}) (string, error) {
	if !e.Enabled() {
		return "", ErrNoSink
	}

	job := Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal webhook job: %w", err)
	}
	if err := e.store.PushHead(ctx, queueKey, string(raw)); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Start inicia o worker. Chamadas repetidas são ignoradas.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	if !e.Enabled() {
		e.logger.Warn().Msg("Webhook delivery disabled: no sink URL configured")
		return
	}

	e.stopChan = make(chan struct{})
	e.running = true
	e.wg.Add(1)
	go e.worker(e.stopChan)
	e.logger.Info().Str("sink", e.sinkURL).Int("batch_size", e.batchSize).Msg("Webhook worker started")
}

// Stop encerra o worker e espera as entregas em andamento
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	close(e.stopChan)
	e.running = false
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info().Msg("Webhook worker stopped")
}

// IsProcessing indica se o worker está ativo
func (e *Engine) IsProcessing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// GetStats retorna o tamanho das três filas
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	pending, err := e.store.Len(ctx, queueKey)
	if err != nil {
		return nil, err
	}
	processing, err := e.store.Len(ctx, processingKey)
	if err != nil {
		return nil, err
	}
	failed, err := e.store.Len(ctx, failedKey)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Pending:      pending,
		Processing:   processing,
		Failed:       failed,
		IsProcessing: e.IsProcessing(),
	}, nil
}

// RetryFailed move até limit jobs da fila de mortos de volta para a
// fila principal, zerando tentativas e histórico de erros
func (e *Engine) RetryFailed(ctx context.Context, limit int) (int, error) {
	moved := 0
	for moved < limit {
		raw, err := e.store.PopTail(ctx, failedKey)
		if errors.Is(err, kv.ErrNotFound) {
			break
		}
		if err != nil {
			return moved, err
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			e.logger.Error().Err(err).Msg("Dropping corrupt job from failed queue")
			continue
		}
		job.Attempts = 0
		job.Errors = nil
		job.LastAttempt = 0

		reset, err := json.Marshal(job)
		if err != nil {
			return moved, fmt.Errorf("marshal webhook job: %w", err)
		}
		if err := e.store.PushHead(ctx, queueKey, string(reset)); err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		e.logger.Info().Int("count", moved).Msg("Moved failed jobs back to queue")
	}
	return moved, nil
}

func (e *Engine) worker(stop chan struct{}) {
	defer e.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-stop:
			return
		default:
		}

		batch := e.dequeueBatch(ctx)
		if len(batch) == 0 {
			select {
			case <-stop:
				return
			case <-time.After(e.idleSleep):
			}
			continue
		}
		e.deliverBatch(stop, batch)
	}
}

// dequeueBatch move atomicamente até batchSize jobs para a lista de
// processamento. Entradas corrompidas são descartadas com log.
func (e *Engine) dequeueBatch(ctx context.Context) []queued {
	var batch []queued
	for len(batch) < e.batchSize {
		raw, err := e.store.MoveTailToHead(ctx, queueKey, processingKey)
		if errors.Is(err, kv.ErrNotFound) {
			break
		}
		if err != nil {
			e.logger.Error().Err(err).Msg("Failed to dequeue webhook job")
			break
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			e.logger.Error().Err(err).Msg("Dropping corrupt job from queue")
			if removeErr := e.store.Remove(ctx, processingKey, raw); removeErr != nil {
				e.logger.Error().Err(removeErr).Msg("Failed to drop corrupt job")
			}
			continue
		}
		batch = append(batch, queued{raw: raw, job: job})
	}
	return batch
}

// deliverBatch posta todos os jobs do lote em paralelo
func (e *Engine) deliverBatch(stop chan struct{}, batch []queued) {
	var wg sync.WaitGroup
	for _, item := range batch {
		wg.Add(1)
		go func(item queued) {
			defer wg.Done()
			e.deliver(stop, item)
		}(item)
	}
	wg.Wait()
}

func (e *Engine) deliver(stop chan struct{}, item queued) {
	ctx := context.Background()
	job := item.job

	body := map[string]interface{}{
		"sessionId": job.SessionID,
		"event":     job.Event,
		"payload":   job.Payload,
		"ts":        job.Timestamp,
	}

	resp, err := e.client.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Event", job.Event).
		SetHeader("X-Session-ID", job.SessionID).
		SetBody(body).
		Post(e.sinkURL)

	if err == nil && resp.IsSuccess() {
		if ackErr := e.store.Remove(ctx, processingKey, item.raw); ackErr != nil {
			e.logger.Error().Err(ackErr).Str("job_id", job.ID).Msg("Failed to ack delivered job")
		}
		e.logger.Debug().Str("job_id", job.ID).Str("event", job.Event).Msg("Webhook delivered")
		return
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	} else {
		reason = fmt.Sprintf("HTTP %d", resp.StatusCode())
	}
	e.handleFailure(ctx, stop, item, reason)
}

// handleFailure aplica a escada de retry e, esgotada, manda o job para
// a fila de mortos
func (e *Engine) handleFailure(ctx context.Context, stop chan struct{}, item queued, reason string) {
	if err := e.store.Remove(ctx, processingKey, item.raw); err != nil {
		e.logger.Error().Err(err).Str("job_id", item.job.ID).Msg("Failed to remove job from processing")
	}

	job := item.job
	job.Attempts++
	job.LastAttempt = time.Now().UnixMilli()
	job.recordError(reason)

	raw, err := json.Marshal(job)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to marshal job for retry")
		return
	}

	if job.Attempts >= e.maxRetries {
		if err := e.store.PushHead(ctx, failedKey, string(raw)); err != nil {
			e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to move job to dead letter queue")
			return
		}
		e.logger.Warn().
			Str("job_id", job.ID).
			Str("event", job.Event).
			Int("attempts", job.Attempts).
			Str("reason", reason).
			Msg("Webhook job moved to dead letter queue")
		return
	}

	delay := e.retryDelay * time.Duration(1<<(job.Attempts-1))
	e.logger.Warn().
		Str("job_id", job.ID).
		Int("attempt", job.Attempts).
		Dur("retry_in", delay).
		Str("reason", reason).
		Msg("Webhook delivery failed, scheduling retry")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// No encerramento o job volta imediatamente para a fila,
		// preservando a durabilidade
		select {
		case <-time.After(delay):
		case <-stop:
		}
		if err := e.store.PushHead(context.Background(), queueKey, string(raw)); err != nil {
			e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to requeue job")
		}
	}()
}
