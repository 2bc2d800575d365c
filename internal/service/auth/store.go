// Package auth persiste o estado de autenticação das sessões no serviço
// chave-valor. Todo o conhecimento sobre o formato das chaves mora aqui.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/felipe/zegate/internal/kv"
	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/wa"
)

const keyPrefix = "wa:"

var sessionKeyPattern = regexp.MustCompile(`^wa:([^:]+):.+$`)

// SaveCreds persiste o documento de credenciais carregado por Load
type SaveCreds func(ctx context.Context) error

// Store guarda credenciais e chaves de sinal por sessão
type Store struct {
	kv     kv.Store
	logger *logger.ComponentLogger
}

// NewStore cria uma nova instância do repositório de credenciais
func NewStore(store kv.Store) *Store {
	return &Store{
		kv:     store,
		logger: logger.ForComponent("auth"),
	}
}

// SessionPrefix retorna o prefixo de todas as chaves de uma sessão
func SessionPrefix(sessionID string) string {
	return keyPrefix + sessionID + ":"
}

func credsKey(sessionID string) string {
	return SessionPrefix(sessionID) + "creds"
}

func signalKeyName(sessionID, category, id string) string {
	return SessionPrefix(sessionID) + category + "-" + id
}

// Load carrega o estado de autenticação da sessão, inicializando um
// documento novo quando não existe material persistido
func (s *Store) Load(ctx context.Context, sessionID string) (*wa.AuthState, SaveCreds, error) {
	creds, err := s.loadCreds(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	state := &wa.AuthState{
		Creds: creds,
		Keys: &signalKeys{
			store:     s.kv,
			sessionID: sessionID,
		},
	}
	save := func(ctx context.Context) error {
		return s.SaveCreds(ctx, sessionID, state.Creds)
	}
	return state, save, nil
}

func (s *Store) loadCreds(ctx context.Context, sessionID string) (*wa.Credentials, error) {
	raw, err := s.kv.Get(ctx, credsKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		s.logger.Info().Str("session_id", sessionID).Msg("Initializing fresh credentials")
		return wa.NewCredentials()
	}
	if err != nil {
		return nil, err
	}

	var creds wa.Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("corrupt credentials for session %s: %w", sessionID, err)
	}
	return &creds, nil
}

// SaveCreds grava o documento de credenciais de forma atômica
func (s *Store) SaveCreds(ctx context.Context, sessionID string, creds *wa.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	return s.kv.Set(ctx, credsKey(sessionID), string(data))
}

// HasCreds indica se a sessão tem documento persistido
func (s *Store) HasCreds(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.kv.Get(ctx, credsKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Wipe apaga todo o material persistido da sessão
func (s *Store) Wipe(ctx context.Context, sessionID string) error {
	keys, err := s.kv.ScanKeys(ctx, SessionPrefix(sessionID)+"*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	s.logger.Info().Str("session_id", sessionID).Int("keys", len(keys)).Msg("Wiping persisted credentials")
	return s.kv.Delete(ctx, keys...)
}

// SessionIDs enumera as sessões com material persistido
func (s *Store) SessionIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.ScanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, key := range keys {
		match := sessionKeyPattern.FindStringSubmatch(key)
		if match == nil {
			continue
		}
		if _, ok := seen[match[1]]; ok {
			continue
		}
		seen[match[1]] = struct{}{}
		ids = append(ids, match[1])
	}
	sort.Strings(ids)
	return ids, nil
}

// signalKeys implementa wa.KeyStore para uma sessão
type signalKeys struct {
	store     kv.Store
	sessionID string
}

func (k *signalKeys) Get(ctx context.Context, category string, ids []string) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(ids))
	for _, id := range ids {
		raw, err := k.store.Get(ctx, signalKeyName(k.sessionID, category, id))
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var decoded interface{}
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("corrupt signal key %s-%s: %w", category, id, err)
		}
		result[id] = wa.DecodeBuffers(decoded)
	}
	return result, nil
}

// Set grava todas as entradas em um único lote. Valores nulos removem
// a chave correspondente.
func (k *signalKeys) Set(ctx context.Context, data map[string]map[string]interface{}) error {
	entries := make(map[string]string)
	var removals []string

	for category, values := range data {
		for id, value := range values {
			key := signalKeyName(k.sessionID, category, id)
			if value == nil {
				removals = append(removals, key)
				continue
			}
			encoded, err := json.Marshal(wa.EncodeBuffers(value))
			if err != nil {
				return fmt.Errorf("marshal signal key %s-%s: %w", category, id, err)
			}
			entries[key] = string(encoded)
		}
	}

	if err := k.store.SetBatch(ctx, entries); err != nil {
		return err
	}
	return k.store.Delete(ctx, removals...)
}

// Clear remove todas as chaves de uma categoria usando cursor
func (k *signalKeys) Clear(ctx context.Context, category string) error {
	pattern := SessionPrefix(k.sessionID) + category + "-*"
	keys, err := k.store.ScanKeys(ctx, pattern)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return k.store.Delete(ctx, keys...)
}
