// Package jwt emite y valida los bearer tokens de la API de emisión.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles de la API de emisión.
const (
	RoleAdmin   = "admin"   // Gestiona la configuración del tenant y opera documentos
	RoleEmissor = "emissor" // Crea, envía y cancela documentos
	RoleAuditor = "auditor" // Solo lectura
)

// leeway tolerancia de reloj entre instancias al validar exp/iat.
const leeway = 30 * time.Second

// Identity sujeto autenticado: usuario, empresa (tenant) y rol.
type Identity struct {
	UserID    string
	CompanyID string
	Role      string
}

// claims viaja firmado; el rol va en el token para que RequireRole decida sin consultar la DB.
type claims struct {
	jwt.RegisteredClaims
	CompanyID string `json:"company_id"`
	Role      string `json:"role,omitempty"`
}

// Generate firma un token HS256 para la identidad. Sin empresa no hay tenant que aislar: error.
func Generate(secret, issuer string, id Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt: secret vacío")
	}
	if id.CompanyID == "" {
		return "", errors.New("jwt: company_id requerido")
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		CompanyID: id.CompanyID,
		Role:      id.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// Parse valida firma, expiración y emisor (si issuer no es vacío) y devuelve la identidad.
func Parse(secret, issuer, tokenString string) (Identity, error) {
	if secret == "" {
		return Identity{}, errors.New("jwt: secret vacío")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("jwt: %w", err)
	}
	if !token.Valid || c.CompanyID == "" {
		return Identity{}, errors.New("jwt: claims inválidos")
	}
	return Identity{UserID: c.Subject, CompanyID: c.CompanyID, Role: c.Role}, nil
}
