package wa

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// KeyPair é um par de chaves do protocolo de sinal
type KeyPair struct {
	Private Bytes `json:"private"`
	Public  Bytes `json:"public"`
}

// SignedKeyPair é um par de chaves assinado pela identidade
type SignedKeyPair struct {
	KeyPair   KeyPair `json:"keyPair"`
	Signature Bytes   `json:"signature"`
	KeyID     uint32  `json:"keyId"`
}

// AccountSettings guarda preferências sincronizadas da conta
type AccountSettings struct {
	UnarchiveChats bool `json:"unarchiveChats"`
}

// Identity é a identidade pareada da sessão
type Identity struct {
	ID   string `json:"id"`
	LID  string `json:"lid,omitempty"`
	Name string `json:"name,omitempty"`
}

// Credentials é o documento de identidade persistido por sessão.
// Campos desconhecidos do documento original são preservados em Extra
// para não perder material entre versões da biblioteca de protocolo.
type Credentials struct {
	NoiseKey                *KeyPair                   `json:"noiseKey,omitempty"`
	PairingEphemeralKeyPair *KeyPair                   `json:"pairingEphemeralKeyPair,omitempty"`
	SignedIdentityKey       *KeyPair                   `json:"signedIdentityKey,omitempty"`
	SignedPreKey            *SignedKeyPair             `json:"signedPreKey,omitempty"`
	RegistrationID          uint32                     `json:"registrationId"`
	AdvSecretKey            string                     `json:"advSecretKey,omitempty"`
	NextPreKeyID            uint32                     `json:"nextPreKeyId,omitempty"`
	FirstUnuploadedPreKeyID uint32                     `json:"firstUnuploadedPreKeyId,omitempty"`
	AccountSyncCounter      uint32                     `json:"accountSyncCounter"`
	AccountSettings         *AccountSettings           `json:"accountSettings,omitempty"`
	Registered              bool                       `json:"registered"`
	PairingCode             string                     `json:"pairingCode,omitempty"`
	Me                      *Identity                  `json:"me,omitempty"`
	Platform                string                     `json:"platform,omitempty"`
	MyAppStateKeyID         string                     `json:"myAppStateKeyId,omitempty"`
	Extra                   map[string]json.RawMessage `json:"-"`
}

var credentialFields = []string{
	"noiseKey",
	"pairingEphemeralKeyPair",
	"signedIdentityKey",
	"signedPreKey",
	"registrationId",
	"advSecretKey",
	"nextPreKeyId",
	"firstUnuploadedPreKeyId",
	"accountSyncCounter",
	"accountSettings",
	"registered",
	"pairingCode",
	"me",
	"platform",
	"myAppStateKeyId",
}

func (c *Credentials) UnmarshalJSON(data []byte) error {
	type plain Credentials
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, field := range credentialFields {
		delete(all, field)
	}
	if len(all) > 0 {
		known.Extra = all
	}
	*c = Credentials(known)
	return nil
}

func (c Credentials) MarshalJSON() ([]byte, error) {
	type plain Credentials
	base, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range c.Extra {
		if _, exists := merged[key]; !exists {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// Valid indica se o documento possui uma identidade pareada utilizável
func (c *Credentials) Valid() bool {
	return c != nil && c.Me != nil && c.Me.ID != ""
}

// NewCredentials inicializa um documento novo para a primeira conexão
func NewCredentials() (*Credentials, error) {
	noise, err := newKeyPair()
	if err != nil {
		return nil, err
	}
	pairing, err := newKeyPair()
	if err != nil {
		return nil, err
	}
	identity, err := newKeyPair()
	if err != nil {
		return nil, err
	}
	preKey, err := newKeyPair()
	if err != nil {
		return nil, err
	}
	signature, err := randomBytes(64)
	if err != nil {
		return nil, err
	}
	advSecret, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	registrationID, err := newRegistrationID()
	if err != nil {
		return nil, err
	}

	return &Credentials{
		NoiseKey:                noise,
		PairingEphemeralKeyPair: pairing,
		SignedIdentityKey:       identity,
		SignedPreKey: &SignedKeyPair{
			KeyPair:   *preKey,
			Signature: signature,
			KeyID:     1,
		},
		RegistrationID:          registrationID,
		AdvSecretKey:            base64.StdEncoding.EncodeToString(advSecret),
		NextPreKeyID:            1,
		FirstUnuploadedPreKeyID: 1,
		AccountSyncCounter:      0,
		AccountSettings:         &AccountSettings{UnarchiveChats: false},
		Registered:              false,
	}, nil
}

func newKeyPair() (*KeyPair, error) {
	private, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	public, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: private, Public: public}, nil
}

func randomBytes(n int) (Bytes, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate random material: %w", err)
	}
	return buf, nil
}

func newRegistrationID() (uint32, error) {
	buf, err := randomBytes(2)
	if err != nil {
		return 0, err
	}
	id := (uint32(buf[0])<<8 | uint32(buf[1])) & 16383
	if id == 0 {
		id = 1
	}
	return id, nil
}

// KeyStore expõe as operações sobre as chaves de sinal por categoria
type KeyStore interface {
	Get(ctx context.Context, category string, ids []string) (map[string]interface{}, error)
	Set(ctx context.Context, data map[string]map[string]interface{}) error
	Clear(ctx context.Context, category string) error
}

// AuthState agrupa o documento de identidade e as chaves de sinal
type AuthState struct {
	Creds *Credentials
	Keys  KeyStore
}
