package wa

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Bytes é um campo binário que sobrevive à serialização JSON usando o
// objeto etiquetado {"type":"Buffer","data":"<base64>"} do documento
// de credenciais.
type Bytes []byte

type taggedBuffer struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return json.Marshal(taggedBuffer{
		Type: "Buffer",
		Data: base64.StdEncoding.EncodeToString(b),
	})
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}

	// Base64 simples
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(plain)
		if err != nil {
			return fmt.Errorf("invalid base64 buffer: %w", err)
		}
		*b = decoded
		return nil
	}

	var tagged struct {
		Type  string          `json:"type"`
		Data  json.RawMessage `json:"data"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("invalid buffer encoding: %w", err)
	}
	raw := tagged.Data
	if len(raw) == 0 {
		raw = tagged.Value
	}
	if len(raw) == 0 {
		*b = nil
		return nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid base64 buffer: %w", err)
		}
		*b = decoded
		return nil
	}

	// Formato legado: lista de bytes
	var numbers []int
	if err := json.Unmarshal(raw, &numbers); err != nil {
		return fmt.Errorf("invalid buffer data: %w", err)
	}
	decoded := make([]byte, len(numbers))
	for i, n := range numbers {
		decoded[i] = byte(n)
	}
	*b = decoded
	return nil
}

// EncodeBuffers percorre uma árvore JSON decodificada e converte valores
// binários para o objeto etiquetado. A transformação é reversível por
// DecodeBuffers.
func EncodeBuffers(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		return map[string]interface{}{
			"type": "Buffer",
			"data": base64.StdEncoding.EncodeToString(v),
		}
	case Bytes:
		return map[string]interface{}{
			"type": "Buffer",
			"data": base64.StdEncoding.EncodeToString(v),
		}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = EncodeBuffers(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = EncodeBuffers(item)
		}
		return out
	default:
		return value
	}
}

// DecodeBuffers restaura []byte a partir dos objetos etiquetados da árvore
func DecodeBuffers(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		if decoded, ok := decodeTagged(v); ok {
			return decoded
		}
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = DecodeBuffers(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = DecodeBuffers(item)
		}
		return out
	default:
		return value
	}
}

func decodeTagged(m map[string]interface{}) ([]byte, bool) {
	t, ok := m["type"].(string)
	if !ok || (t != "Buffer" && t != "Uint8Array") {
		return nil, false
	}
	raw, ok := m["data"]
	if !ok {
		if raw, ok = m["value"]; !ok {
			return nil, false
		}
	}
	switch d := raw.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(d)
		if err != nil {
			return nil, false
		}
		return decoded, true
	case []interface{}:
		decoded := make([]byte, len(d))
		for i, n := range d {
			f, ok := n.(float64)
			if !ok {
				return nil, false
			}
			decoded[i] = byte(int(f))
		}
		return decoded, true
	}
	return nil, false
}
