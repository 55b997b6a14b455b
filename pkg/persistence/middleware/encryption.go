package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/ports"
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.SessionStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts event payloads
// using AES-GCM (Envelope Encryption). Message and tool call payloads are
// sealed; status events and event metadata stay readable so ordering and
// monitoring keep working against the raw store.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

const envelopeKey = "__encrypted__"

func (m *encryptionMiddleware) Append(ctx context.Context, sessionID string, event domain.Event) (int64, error) {
	if !sensitiveKind(event.Kind) || event.Data == nil {
		return m.next.Append(ctx, sessionID, event)
	}

	plainText, err := json.Marshal(event.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt event payload: %w", err)
	}

	event.Data = map[string]any{
		envelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return m.next.Append(ctx, sessionID, event)
}

func (m *encryptionMiddleware) Read(ctx context.Context, sessionID string, minOffset int64) ([]domain.Event, error) {
	events, err := m.next.Read(ctx, sessionID, minOffset)
	if err != nil {
		return nil, err
	}

	for i, event := range events {
		if !sensitiveKind(event.Kind) {
			continue
		}

		envelope, ok := event.Data.(map[string]any)
		if !ok {
			// Fail secure: with encryption configured, a sensitive payload
			// that is not an envelope means the log was written without it.
			return nil, errors.New("event is missing encrypted data envelope")
		}
		encryptedStr, ok := envelope[envelopeKey].(string)
		if !ok {
			return nil, errors.New("event is missing encrypted data envelope")
		}

		ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
		if err != nil {
			return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
		}

		plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt event payload: %w", err)
		}

		data, err := unmarshalPayload(event.Kind, plainText)
		if err != nil {
			return nil, err
		}
		events[i].Data = data
	}

	return events, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func sensitiveKind(kind domain.EventKind) bool {
	return kind == domain.EventMessage || kind == domain.EventToolCall
}

func unmarshalPayload(kind domain.EventKind, plainText []byte) (any, error) {
	switch kind {
	case domain.EventMessage:
		var data domain.MessageData
		if err := json.Unmarshal(plainText, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decrypted payload: %w", err)
		}
		return data, nil
	case domain.EventToolCall:
		var data domain.ToolCallData
		if err := json.Unmarshal(plainText, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decrypted payload: %w", err)
		}
		return data, nil
	default:
		var data any
		if err := json.Unmarshal(plainText, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decrypted payload: %w", err)
		}
		return data, nil
	}
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
