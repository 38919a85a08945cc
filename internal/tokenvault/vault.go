// Package tokenvault maintains thread-keyed sessions and mints the signed
// sandbox JWTs carried into each investigation sandbox. Session lifetime is
// deliberately decoupled from sandbox lifetime: a follow-up hours after the
// sandbox was reclaimed resumes the same logical session.
package tokenvault

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/constants"
	"github.com/vigilops/vigilops/internal/common/logger"
)

// Claims are the sandbox JWT claims.
type Claims struct {
	TenantID    string `json:"tenant_id"`
	TeamID      string `json:"team_id"`
	ThreadID    string `json:"thread_id"`
	SandboxName string `json:"sandbox_name"`
	jwt.RegisteredClaims
}

// Session is the vault entry for one thread.
type Session struct {
	JWT      string
	Expiry   time.Time
	TenantID string
	TeamID   string
}

// Vault mints and caches sandbox JWTs keyed by thread ID.
type Vault struct {
	secret         []byte
	ttl            time.Duration
	reuseThreshold time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	logger *logger.Logger
}

// New creates a Vault from configuration.
func New(cfg config.VaultConfig, log *logger.Logger) *Vault {
	return &Vault{
		secret:         []byte(cfg.JWTSecret),
		ttl:            cfg.TokenTTLDuration(),
		reuseThreshold: cfg.ReuseThresholdDuration(),
		sessions:       make(map[string]*Session),
		logger:         log.WithFields(zap.String("component", "tokenvault")),
	}
}

// GetOrCreate returns the cached JWT for a thread when its remaining lifetime
// exceeds the reuse threshold, otherwise mints a fresh one and overwrites the
// entry atomically.
func (v *Vault) GetOrCreate(threadID, tenantID, teamID string) (string, time.Time, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now().UTC()
	if sess, ok := v.sessions[threadID]; ok && sess.Expiry.Sub(now) > v.reuseThreshold {
		v.logger.Debug("reusing session JWT",
			zap.String("thread_id", threadID),
			zap.Time("expiry", sess.Expiry),
		)
		return sess.JWT, sess.Expiry, nil
	}

	expiry := now.Add(v.ttl)
	token, err := v.mint(threadID, tenantID, teamID, now, expiry)
	if err != nil {
		return "", time.Time{}, err
	}

	v.sessions[threadID] = &Session{
		JWT:      token,
		Expiry:   expiry,
		TenantID: tenantID,
		TeamID:   teamID,
	}

	v.logger.Info("minted session JWT",
		zap.String("thread_id", threadID),
		zap.String("tenant_id", tenantID),
		zap.String("team_id", teamID),
		zap.Time("expiry", expiry),
	)
	return token, expiry, nil
}

// Get returns the session for a thread, if any.
func (v *Vault) Get(threadID string) (Session, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	sess, ok := v.sessions[threadID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Len returns the number of live sessions.
func (v *Vault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.sessions)
}

// Verify parses a sandbox JWT and validates its signature and expiry.
func (v *Vault) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse sandbox JWT: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid sandbox JWT")
	}
	return claims, nil
}

func (v *Vault) mint(threadID, tenantID, teamID string, now, expiry time.Time) (string, error) {
	claims := Claims{
		TenantID:    tenantID,
		TeamID:      teamID,
		ThreadID:    threadID,
		SandboxName: constants.SandboxName(threadID),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign sandbox JWT: %w", err)
	}
	return signed, nil
}
