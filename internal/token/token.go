// Package token issues purpose-scoped references to jobs. A reference is an
// HS256 JWT whose key is derived from the service secret and the purpose,
// so a token minted for one purpose cannot be resolved for another.
package token

import (
	"crypto/sha256"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const issuer = "maintd"

var ErrInvalidToken = errors.New("token: invalid job reference")

type claims struct {
	jwt.RegisteredClaims
	Purpose string `json:"pur"`
}

type Signer struct {
	secret []byte
	grace  time.Duration
	now    func() time.Time
}

// NewSigner returns a Signer. Tokens stay valid until grace after the
// instant they were issued for.
func NewSigner(secret string, grace time.Duration) *Signer {
	return &Signer{secret: []byte(secret), grace: grace, now: time.Now}
}

func (s *Signer) key(purpose string) ([]byte, error) {
	k := make([]byte, 32)
	r := hkdf.New(sha256.New, s.secret, nil, []byte("maintd/job-ref/"+purpose))
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	return k, nil
}

// Sign returns a reference to jobID usable only for purpose, expiring grace
// after at.
func (s *Signer) Sign(jobID, purpose string, at time.Time) (string, error) {
	key, err := s.key(purpose)
	if err != nil {
		return "", err
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   jobID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(at.Add(s.grace)),
		},
		Purpose: purpose,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, "sign job reference")
	}
	return signed, nil
}

// Resolve returns the job id referenced by tok if it was issued for
// purpose and has not expired.
func (s *Signer) Resolve(tok, purpose string) (string, error) {
	key, err := s.key(purpose)
	if err != nil {
		return "", err
	}
	var c claims
	_, err = jwt.ParseWithClaims(tok, &c, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if c.Purpose != purpose || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}
