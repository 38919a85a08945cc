// Package v1 defines the public API types for the orchestration plane.
package v1

// InvestigateRequest is the body of POST /investigate.
type InvestigateRequest struct {
	Prompt          string            `json:"prompt" binding:"required"`
	ThreadID        string            `json:"thread_id,omitempty"`
	TenantID        string            `json:"tenant_id,omitempty"`
	TeamID          string            `json:"team_id,omitempty"`
	TeamToken       string            `json:"team_token,omitempty"`
	Images          []ImageAttachment `json:"images,omitempty"`
	FileAttachments []FileAttachment  `json:"file_attachments,omitempty"`
}

// ImageAttachment is an inline base64 image forwarded to the sandbox unchanged.
type ImageAttachment struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
	Filename  string `json:"filename,omitempty"`
}

// FileAttachment describes a user-uploaded file held by the chat surface.
// The auth header never reaches the sandbox; it is traded for a single-use
// download token.
type FileAttachment struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	MediaType   string `json:"media_type"`
	DownloadURL string `json:"download_url"`
	AuthHeader  string `json:"auth_header,omitempty"`
}

// FileDownload is the credential-free handle the sandbox receives in place
// of a FileAttachment.
type FileDownload struct {
	Token     string `json:"token"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MediaType string `json:"media_type"`
	ProxyURL  string `json:"proxy_url"`
}

// ExecuteRequest is the body forwarded to a sandbox's /execute endpoint.
type ExecuteRequest struct {
	Prompt        string            `json:"prompt"`
	ThreadID      string            `json:"thread_id"`
	Images        []ImageAttachment `json:"images,omitempty"`
	FileDownloads []FileDownload    `json:"file_downloads,omitempty"`
}

// InterruptRequest is the body of POST /interrupt.
type InterruptRequest struct {
	ThreadID string `json:"thread_id" binding:"required"`
}

// AnswerRequest is the body of POST /answer.
type AnswerRequest struct {
	ThreadID string         `json:"thread_id" binding:"required"`
	Answers  map[string]any `json:"answers" binding:"required"`
}

// AnswerResponse is the synchronous reply to POST /answer.
type AnswerResponse struct {
	Status   string `json:"status"`
	ThreadID string `json:"thread_id"`
}

// ClaimRequest injects session identity into a warm sandbox before first use.
type ClaimRequest struct {
	SandboxJWT string `json:"sandbox_jwt"`
	TeamToken  string `json:"team_token,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status               string `json:"status"`
	ActiveDownloadTokens int    `json:"active_download_tokens"`
}
