package middleware

import (
	"errors"
	"strings"
	"time"

	"merchant-voucher/pkg/errutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

// Authenticator checks that the bearer token was issued for the account in
// AccountHeader. With no secret configured it lets every request through.
type Authenticator struct {
	secret []byte
	opts   []jwt.ParserOption
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return nil
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 2 * time.Minute
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{secret: []byte(secret), opts: opts}
}

// Handler must run after Account.
func (a *Authenticator) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.Next()
			return
		}

		account, ok := GetAccount(c)
		if !ok {
			_ = c.Error(errutil.Unauthorized("missing account", nil))
			c.Abort()
			return
		}
		subject, err := a.subject(c.GetHeader("Authorization"))
		if err != nil {
			zap.L().Debug("token rejected", zap.Error(err))
			_ = c.Error(errutil.Unauthorized("invalid bearer token", nil))
			c.Abort()
			return
		}
		if !common.IsHexAddress(subject) || common.HexToAddress(subject) != account {
			_ = c.Error(errutil.Forbidden("token was not issued for "+account.Hex(), nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *Authenticator) subject(header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errors.New("missing bearer token")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, a.opts...)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
