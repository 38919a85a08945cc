package fileproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const copyBufferSize = 64 * 1024

// ServeDownload handles GET /proxy/files/:token. The token is deleted from
// the store before the first byte is written, so a concurrent or repeated
// request for the same token observes 404.
func (p *Proxy) ServeDownload(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Unknown or expired download token"})
		return
	}

	dt, ok := p.Consume(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Unknown or expired download token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), p.upstreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dt.UpstreamURL, nil)
	if err != nil {
		p.logger.Error("bad upstream URL", zap.String("filename", dt.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Invalid upstream URL"})
		return
	}
	if dt.UpstreamAuth != "" {
		req.Header.Set("Authorization", dt.UpstreamAuth)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"detail": "Upstream download timed out"})
			return
		}
		p.logger.Error("upstream request failed", zap.String("filename", dt.Filename), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"detail": "Upstream download failed"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("upstream returned non-200",
			zap.String("filename", dt.Filename),
			zap.Int("status", resp.StatusCode),
		)
		c.JSON(resp.StatusCode, gin.H{"detail": fmt.Sprintf("Upstream returned status %d", resp.StatusCode)})
		return
	}

	contentType := dt.MediaType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dt.Filename))
	if dt.Size > 0 {
		c.Header("Content-Length", fmt.Sprintf("%d", dt.Size))
	}
	c.Status(http.StatusOK)

	buf := make([]byte, copyBufferSize)
	written, err := io.CopyBuffer(c.Writer, resp.Body, buf)
	if err != nil {
		// Headers are already out; all we can do is log and drop the connection.
		p.logger.Warn("download stream interrupted",
			zap.String("filename", dt.Filename),
			zap.Int64("bytes_written", written),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("file proxied",
		zap.String("filename", dt.Filename),
		zap.Int64("bytes", written),
	)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
