// Package fileproxy lets sandboxes download user-attached files without ever
// observing the upstream credential. The orchestrator mints single-use,
// TTL-bounded download tokens and streams the bytes through itself with the
// stored Authorization header injected on the upstream request.
package fileproxy

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/logger"
)

// DownloadToken is one minted capability. Consuming or expiring it is destruction.
type DownloadToken struct {
	Token        string
	UpstreamURL  string
	UpstreamAuth string
	Filename     string
	Size         int64
	MediaType    string
	CreatedAt    time.Time
}

// Proxy mints download tokens and streams upstream bytes through itself.
type Proxy struct {
	ttl             time.Duration
	upstreamTimeout time.Duration

	mu     sync.Mutex
	tokens map[string]*DownloadToken

	logger *logger.Logger
}

// New creates a Proxy from configuration.
func New(cfg config.FileProxyConfig, log *logger.Logger) *Proxy {
	return &Proxy{
		ttl:             cfg.TokenTTLDuration(),
		upstreamTimeout: cfg.UpstreamTimeoutDuration(),
		tokens:          make(map[string]*DownloadToken),
		logger:          log.WithFields(zap.String("component", "fileproxy")),
	}
}

// Mint stores a new single-use download token for an upstream file and
// returns the token string. Tokens are 256-bit cryptographically random.
func (p *Proxy) Mint(upstreamURL, upstreamAuth, filename string, size int64, mediaType string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate download token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	p.mu.Lock()
	p.tokens[token] = &DownloadToken{
		Token:        token,
		UpstreamURL:  upstreamURL,
		UpstreamAuth: upstreamAuth,
		Filename:     filename,
		Size:         size,
		MediaType:    mediaType,
		CreatedAt:    time.Now().UTC(),
	}
	p.mu.Unlock()

	p.logger.Debug("minted download token",
		zap.String("filename", filename),
		zap.Int64("size", size),
	)
	return token, nil
}

// Consume removes and returns the token when it exists and has not expired.
// Removal happens before any byte is streamed so a token can never satisfy
// more than one download.
func (p *Proxy) Consume(token string) (*DownloadToken, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dt, ok := p.tokens[token]
	if !ok {
		return nil, false
	}
	delete(p.tokens, token)

	if time.Since(dt.CreatedAt) > p.ttl {
		return nil, false
	}
	return dt, true
}

// ActiveTokens returns the number of live tokens.
func (p *Proxy) ActiveTokens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// CollectExpired drops expired tokens and returns how many were removed.
// Called opportunistically from the health endpoint.
func (p *Proxy) CollectExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	now := time.Now()
	for token, dt := range p.tokens {
		if now.Sub(dt.CreatedAt) > p.ttl {
			delete(p.tokens, token)
			removed++
		}
	}
	if removed > 0 {
		p.logger.Debug("collected expired download tokens", zap.Int("removed", removed))
	}
	return removed
}
