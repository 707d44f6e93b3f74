package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	apperrors "github.com/chainsafe/liquid-stake/pkg/app/errors"
	apphttp "github.com/chainsafe/liquid-stake/pkg/app/http"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned when a token fails signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the access token claims. The subject is the acting account and
// Authorities lists further accounts whose authority the bearer carries.
type Claims struct {
	Authorities []string `json:"auth,omitempty"`
	jwt.RegisteredClaims
}

// Caller converts the claims into the set of authorizing principals.
func (c *Claims) Caller() ledger.Caller {
	names := make([]asset.Name, 0, len(c.Authorities)+1)
	names = append(names, asset.Name(c.Subject))
	for _, a := range c.Authorities {
		names = append(names, asset.Name(a))
	}
	return ledger.NewCaller(names...)
}

// JWTValidator issues and validates HMAC signed access tokens
type JWTValidator struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(signingKey, issuer string) *JWTValidator {
	return &JWTValidator{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
}

// IsConfigured returns true if a signing key is set
func (v *JWTValidator) IsConfigured() bool {
	return len(v.signingKey) > 0
}

// GenerateToken signs a token for subject carrying the extra authorities.
func (v *JWTValidator) GenerateToken(subject asset.Name, authorities []asset.Name, expiresIn time.Duration) (string, error) {
	auth := make([]string, 0, len(authorities))
	for _, a := range authorities {
		auth = append(auth, a.String())
	}
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Authorities: auth,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(v.signingKey)
}

// ValidateToken validates a JWT token and returns the claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Middleware authenticates the bearer token of every request and stores the
// resulting caller in the request context.
func (v *JWTValidator) Middleware(next http.Handler) http.Handler {
	return apphttp.HandleError(func(w http.ResponseWriter, r *http.Request) error {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return apperrors.UnAuthorizedError(ErrMissingToken, "bearer token required")
		}

		claims, err := v.ValidateToken(raw)
		if err != nil {
			return apperrors.UnAuthorizedError(err, "invalid token")
		}

		ctx := WithCaller(r.Context(), claims.Caller())
		next.ServeHTTP(w, r.WithContext(ctx))
		return nil
	})
}
