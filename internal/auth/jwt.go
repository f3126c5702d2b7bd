package auth

import (
	"fmt"
	"time"

	"github.com/admissions-portal/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "admissions-portal"

// Claims carry the admin identity for the lifetime of a session.
type Claims struct {
	AdminID     uuid.UUID `json:"admin_id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() models.AdminIdentity {
	return models.AdminIdentity{
		ID:          c.AdminID,
		Email:       c.Email,
		Role:        c.Role,
		DisplayName: c.DisplayName,
		AvatarURL:   c.AvatarURL,
	}
}

// GenerateJWT signs a token for identity. A non-positive expiration falls
// back to 12h.
func GenerateJWT(secret string, identity models.AdminIdentity, expiration time.Duration) (string, error) {
	if expiration <= 0 {
		expiration = 12 * time.Hour
	}

	now := time.Now()
	claims := Claims{
		AdminID:     identity.ID,
		Email:       identity.Email,
		Role:        identity.Role,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseJWT(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.AdminID == uuid.Nil {
		return nil, fmt.Errorf("token has no admin id")
	}
	return claims, nil
}
