package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ksred/deltatrade/internal/types"
	"github.com/ksred/deltatrade/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Test credentials
var (
	TestAPIKey    = "test-api-key"
	TestAPISecret = "test-api-secret"
)

// accountNamespace derives stable account ids from API keys.
var accountNamespace = uuid.MustParse("6f1c1a52-3c1e-4f7a-9a57-0d0c8f1e2b11")

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
	AccountID  string    `json:"account_id"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	AccountID   string   `json:"account_id"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
}

// AccountProvisioner creates an account on first login.
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, accountID, username string, balance decimal.Decimal) (*types.Account, bool, error)
}

// Service handles authentication and authorization operations
type Service struct {
	jwtSecret       []byte
	tokenTTL        time.Duration
	accounts        AccountProvisioner
	startingBalance decimal.Decimal
	apiCredentials  map[string]string // map[APIKey]APISecret
}

// NewService creates a new authentication service. accounts may be nil, in
// which case tokens are issued without provisioning.
func NewService(jwtSecret string, tokenTTL time.Duration, accounts AccountProvisioner, startingBalance decimal.Decimal) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		jwtSecret:       []byte(jwtSecret),
		tokenTTL:        tokenTTL,
		accounts:        accounts,
		startingBalance: startingBalance,
		apiCredentials:  make(map[string]string),
	}
}

// AccountIDFor returns the account id bound to an API key.
func AccountIDFor(apiKey string) string {
	return uuid.NewSHA1(accountNamespace, []byte(apiKey)).String()
}

// GenerateToken generates a JWT token for valid API credentials. The first
// token for a key also opens its account with the starting balance.
func (s *Service) GenerateToken(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	// Verify API credentials
	if !s.validateCredentials(creds) {
		return nil, ErrInvalidCredentials
	}

	accountID := AccountIDFor(creds.APIKey)
	if s.accounts != nil {
		_, created, err := s.accounts.EnsureAccount(ctx, accountID, creds.APIKey, s.startingBalance)
		if err != nil {
			return nil, err
		}
		if created {
			log.Info().
				Str("component", "auth").
				Str("account_id", accountID).
				Str("starting_balance", s.startingBalance.StringFixed(2)).
				Msg("account provisioned")
		}
	}

	now := time.Now()
	expiration := now.Add(s.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		AccountID:   accountID,
		Username:    creds.APIKey,
		Permissions: []string{"trade"}, // Default permission
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
		AccountID:  accountID,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
// Verifies token signature and expiration
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// validateCredentials checks if the API credentials are valid
func (s *Service) validateCredentials(creds Credentials) bool {
	secret, exists := s.apiCredentials[creds.APIKey]
	return exists && secret == creds.APISecret
}

// RegisterAPICredentials registers API credentials. Call during startup only.
func (s *Service) RegisterAPICredentials(apiKey, apiSecret string) {
	s.apiCredentials[apiKey] = apiSecret
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
// Request body should contain API credentials
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(c.Request.Context(), creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// GetAccountID extracts the account ID from JWT claims
// Returns empty string if account ID is not found or invalid
func GetAccountID(claims interface{}) string {
	switch c := claims.(type) {
	case jwt.MapClaims:
		if accountID, ok := c["account_id"].(string); ok {
			return accountID
		}
	case *Claims:
		return c.AccountID
	}
	return ""
}

// RequireAccountID reads the authenticated account from the request
// context. It writes a 401 and returns false when there is none.
func RequireAccountID(c *gin.Context) (string, bool) {
	claims, exists := c.Get("claims")
	if !exists {
		response.Unauthorized(c, "Missing authentication claims")
		return "", false
	}
	accountID := GetAccountID(claims)
	if accountID == "" {
		response.Unauthorized(c, "Invalid account ID in token")
		return "", false
	}
	return accountID, true
}
