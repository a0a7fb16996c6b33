package notify

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const sealedLinkPrefix = "sealed:v1:"

var ErrLinkNotSealed = errors.New("notification link is not sealed")

// LinkSealer encrypts Message.Link with AES-256-GCM before a message is
// handed to a broker. The recipient address is bound as additional data, so
// a sealed link only opens for the mail it was issued to.
type LinkSealer struct {
	aead cipher.AEAD
}

func NewLinkSealer(secret string) (*LinkSealer, error) {
	if len(secret) < 32 {
		return nil, errors.New("link sealer: secret must be at least 32 characters")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("livestock-track notify link")), key); err != nil {
		return nil, fmt.Errorf("link sealer: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("link sealer: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("link sealer: create gcm: %w", err)
	}

	return &LinkSealer{aead: aead}, nil
}

func (s *LinkSealer) Seal(msg Message) (Message, error) {
	if msg.Link == "" {
		return msg, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Message{}, fmt.Errorf("seal link: %w", err)
	}

	blob := s.aead.Seal(nonce, nonce, []byte(msg.Link), []byte(msg.To))
	msg.Link = sealedLinkPrefix + base64.RawURLEncoding.EncodeToString(blob)
	return msg, nil
}

func (s *LinkSealer) Open(msg Message) (Message, error) {
	if msg.Link == "" {
		return msg, nil
	}

	encoded, ok := strings.CutPrefix(msg.Link, sealedLinkPrefix)
	if !ok {
		return Message{}, ErrLinkNotSealed
	}

	blob, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Message{}, fmt.Errorf("open link: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(blob) < nonceSize {
		return Message{}, errors.New("open link: ciphertext too short")
	}

	plain, err := s.aead.Open(nil, blob[:nonceSize], blob[nonceSize:], []byte(msg.To))
	if err != nil {
		return Message{}, fmt.Errorf("open link: %w", err)
	}

	msg.Link = string(plain)
	return msg, nil
}

// encodeMessage is the broker wire format: JSON with the link sealed.
func encodeMessage(msg Message, sealer *LinkSealer) ([]byte, error) {
	sealed, err := sealer.Seal(msg)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return body, nil
}

func decodeMessage(body []byte, sealer *LinkSealer) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("unmarshal notification: %w", err)
	}
	return sealer.Open(msg)
}
