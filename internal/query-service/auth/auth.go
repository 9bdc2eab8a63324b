package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const cookieName = "auth_token"

const tokenTTL = 7 * 24 * time.Hour

// Service emite e valida tokens JWT HS256 carregados em cookie httpOnly.
// Sem tabela de usuários: as claims são derivadas dos parâmetros de login
// e o identificador é gerado na primeira emissão.
type Service struct {
	Secret []byte
	Secure bool // Secure cookie (true em produção)
	Log    *zap.Logger
}

// Claims são as claims carregadas no token
type Claims struct {
	Username string `json:"username"`
	Wallet   string `json:"wallet"`
	UserID   string `json:"userId"`
	jwt.RegisteredClaims
}

func (s *Service) createToken(username, wallet string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		Wallet:   wallet,
		UserID:   uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	return token.SignedString(s.Secret)
}

func (s *Service) parseToken(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// LoginHandler autentica via query string (username + wallet) e grava o
// cookie de sessão. Não há verificação de assinatura de carteira aqui,
// isso fica no gateway upstream.
func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	wallet := r.URL.Query().Get("wallet")
	if username == "" || wallet == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing required parameters"})
		return
	}

	token, err := s.createToken(username, wallet)
	if err != nil {
		s.Log.Error("failed to sign token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.Secure,
		MaxAge:   int(tokenTTL / time.Second),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Authenticated", "username": username, "wallet": wallet})
}

// MeHandler devolve as claims do cookie de sessão
func (s *Service) MeHandler(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no token provided"})
		return
	}
	claims, err := s.parseToken(c.Value)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": claims})
}

// LogoutHandler expira o cookie de sessão
func (s *Service) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
