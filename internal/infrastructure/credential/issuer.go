// Package credential mints and verifies the signed links approvers act through.
package credential

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/entity"
)

const defaultIssuer = "c2"

// ErrMissingSecret is returned when the issuer is built without a signing key
var ErrMissingSecret = errors.New("credential signing secret is empty")

// Claims carried by an approval credential. The subject is the user id.
type Claims struct {
	ProposalID int64 `json:"pid"`
	StepID     int64 `json:"sid"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 approval credentials
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures the issuer
type Option func(*Issuer)

// WithTTL overrides the credential lifetime
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// WithIssuer sets the iss claim
func WithIssuer(name string) Option {
	return func(i *Issuer) {
		if name != "" {
			i.issuer = name
		}
	}
}

// NewIssuer creates an Issuer with the shared secret
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	i := &Issuer{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    entity.AccessTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue implements port.CredentialIssuer
func (i *Issuer) Issue(proposalID, stepID, userID int64) (*port.Credential, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	jti := uuid.NewString()

	claims := Claims{
		ProposalID: proposalID,
		StepID:     stepID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    i.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}

	return &port.Credential{
		Token:     signed,
		JTI:       jti,
		ExpiresAt: expires,
	}, nil
}

// Verify implements port.CredentialIssuer
func (i *Issuer) Verify(tokenStr string) (*port.CredentialClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid credential: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid credential claims")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid credential subject: %w", err)
	}
	if claims.ID == "" || claims.StepID == 0 {
		return nil, fmt.Errorf("credential is missing its id or step")
	}

	return &port.CredentialClaims{
		JTI:        claims.ID,
		ProposalID: claims.ProposalID,
		StepID:     claims.StepID,
		UserID:     userID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

var _ port.CredentialIssuer = (*Issuer)(nil)
