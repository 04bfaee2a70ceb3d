package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/example/expense-ledger/internal/ledger"
)

// Claims are the access token claims: the account id and its role.
type Claims struct {
	jwt.RegisteredClaims
	UserID string      `json:"userId"`
	Role   ledger.Role `json:"role"`
}

// Identity is the authenticated caller.
type Identity struct {
	AccountID string
	Role      ledger.Role
}

func (i Identity) IsAdmin() bool { return i.Role == ledger.RoleAdmin }

var (
	ErrMissingSecret = errors.New("missing access secret")
	ErrInvalidToken  = errors.New("invalid token")
)

// DefaultIssuer is the iss claim of tokens minted by this service.
const DefaultIssuer = "expense-ledger"

// Validator verifies HS256 access tokens signed with a shared secret.
type Validator struct {
	Secret []byte
	Issuer string
}

// Validate parses tokenString and returns the identity it carries.
func (v *Validator) Validate(tokenString string) (Identity, error) {
	if v == nil || len(v.Secret) == 0 {
		return Identity{}, ErrMissingSecret
	}

	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.Secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}
	if !tok.Valid || claims.UserID == "" || !claims.Role.Valid() {
		return Identity{}, ErrInvalidToken
	}
	return Identity{AccountID: claims.UserID, Role: claims.Role}, nil
}

// Issue signs an access token for id. Used by operators and tests; end-user
// credential exchange lives outside this service.
func (v *Validator) Issue(id Identity, ttl time.Duration) (string, error) {
	if v == nil || len(v.Secret) == 0 {
		return "", ErrMissingSecret
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.Issuer,
			Subject:   id.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID: id.AccountID,
		Role:   id.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
}
