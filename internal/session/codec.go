package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/jwalitptl/canopy-portal/pkg/auth"
	"github.com/jwalitptl/canopy-portal/pkg/security"
)

// ErrUndecodable is returned for blobs that fail authentication or parsing.
var ErrUndecodable = errors.New("session blob cannot be decoded")

// Codec turns a session into the opaque string kept in storage and back.
type Codec interface {
	Encode(s *Session) (string, error)
	Decode(blob string) (*Session, error)
}

// AEADCodec seals the JSON envelope with AES-GCM, so a blob cannot be read or
// altered without the key.
type AEADCodec struct {
	enc security.Encryptor
}

func NewAEADCodec(key []byte) (*AEADCodec, error) {
	enc, err := security.NewAESEncryptor(key)
	if err != nil {
		return nil, err
	}
	return &AEADCodec{enc: enc}, nil
}

func (c *AEADCodec) Encode(s *Session) (string, error) {
	plain, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	sealed, err := c.enc.Encrypt(plain)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *AEADCodec) Decode(blob string) (*Session, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrUndecodable
	}
	plain, err := c.enc.Decrypt(sealed)
	if err != nil {
		return nil, ErrUndecodable
	}
	var s Session
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, ErrUndecodable
	}
	return &s, nil
}

// JWTCodec carries the envelope as HS256 claims. The blob is signed but not
// encrypted, so the profile is readable by anyone holding it.
type JWTCodec struct {
	jwt auth.JWTService
}

func NewJWTCodec(svc auth.JWTService) *JWTCodec {
	return &JWTCodec{jwt: svc}
}

func (c *JWTCodec) Encode(s *Session) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return "", err
	}
	return c.jwt.Sign(claims)
}

func (c *JWTCodec) Decode(blob string) (*Session, error) {
	claims, err := c.jwt.Validate(blob)
	if err != nil {
		return nil, ErrUndecodable
	}
	delete(claims, "iss")

	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, ErrUndecodable
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, ErrUndecodable
	}
	return &s, nil
}
