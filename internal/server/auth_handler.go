package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/config"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// Authenticator checks operator credentials and issues API tokens.
type Authenticator struct {
	jwt       *JWTService
	operator  config.OperatorConfig
	passwords *config.PasswordConfig
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(jwtCfg *config.JWTConfig, operator *config.OperatorConfig, passwords *config.PasswordConfig) *Authenticator {
	return &Authenticator{
		jwt:       NewJWTService(jwtCfg),
		operator:  *operator,
		passwords: passwords,
	}
}

// Login verifies credentials and returns a signed token.
func (a *Authenticator) Login(name, password string) (string, time.Time, error) {
	nameOK := subtle.ConstantTimeCompare([]byte(name), []byte(a.operator.Name)) == 1
	// The hash comparison runs even when the name does not match.
	passOK := a.passwords.VerifyPassword(password, a.operator.PasswordHash)
	if !nameOK || !passOK {
		return "", time.Time{}, &ErrInvalidCredentials{}
	}
	return a.jwt.GenerateToken(a.operator.Name)
}

// TokenResponse is returned by the token endpoint.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueToken exchanges operator credentials for a bearer token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		s.errorFrom(w, r, ErrAuthDisabled)
		return
	}

	var req types.TokenRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	token, expiresAt, err := s.auth.Login(req.Operator, req.Password)
	if err != nil {
		s.logger.Warn("token request rejected", zap.String("operator", req.Operator), zap.String("client", s.extractClientID(r)))
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, TokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt})
}
