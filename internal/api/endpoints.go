package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/datasnap/bridge-go/internal/clock"
)

// Account describes the authenticated API key's owner.
type Account struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Team  string `json:"team,omitempty"`
}

// Schema is one remote destination schema.
type Schema struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	RecordCount int64  `json:"record_count,omitempty"`
}

// UploadToken is a short-lived grant for uploading one or more files to a
// schema. UploadURL is the pre-signed destination; the file name is
// appended to it at upload time.
type UploadToken struct {
	UploadID  string    `json:"upload_id"`
	UploadURL string    `json:"upload_url"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// tokenValidityMinutes is the validity window requested for upload tokens.
const tokenValidityMinutes = 30

// Me verifies the API key and returns the account it belongs to. Doubles as
// the heartbeat probe.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.doJSON(ctx, "GET", "/auth/me", nil, &acct); err != nil {
		return nil, err
	}

	return &acct, nil
}

// ListSchemas returns the schemas visible to the API key. The endpoint
// wraps the list in a data field.
func (c *Client) ListSchemas(ctx context.Context) ([]Schema, error) {
	var listing struct {
		Data []Schema `json:"data"`
	}

	if err := c.doJSON(ctx, "GET", "/v1/schemas", nil, &listing); err != nil {
		return nil, err
	}

	return listing.Data, nil
}

// GenerateUploadToken requests a fresh upload token for the schema slug on
// behalf of the named mapping.
func (c *Client) GenerateUploadToken(ctx context.Context, slug, mappingName string) (*UploadToken, error) {
	body := map[string]any{
		"mapping_name": mappingName,
		"timestamp":    clock.RFC3339(clock.Now()),
		"minutes":      tokenValidityMinutes,
	}

	var token UploadToken

	path := fmt.Sprintf("/v1/schemas/%s/generate-upload-token", url.PathEscape(slug))
	if err := c.doJSON(ctx, "POST", path, body, &token); err != nil {
		return nil, err
	}

	if token.UploadURL == "" {
		return nil, fmt.Errorf("api: token response for %s has no upload_url", slug)
	}

	return &token, nil
}

// CompletionReceipt is the server's acknowledgement of a finished upload.
// The upload only counts once Success is true.
type CompletionReceipt struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UploadID string `json:"upload_id,omitempty"`
	Status   string `json:"status,omitempty"`
}

// NotifyUploadCompletion confirms a finished upload. The server only
// registers the file once this acknowledges with success, so a failure here
// means the upload did not happen as far as ingestion is concerned.
func (c *Client) NotifyUploadCompletion(ctx context.Context, uploadID, checksum string, fileSize, records int64) (*CompletionReceipt, error) {
	body := map[string]any{
		"file_size":    fileSize,
		"record_count": records,
		"checksum":     checksum,
		"timestamp":    clock.Now().Unix(),
	}

	var receipt CompletionReceipt

	path := fmt.Sprintf("/upload-tokens/%s/complete", url.PathEscape(uploadID))
	if err := c.doJSON(ctx, "POST", path, body, &receipt); err != nil {
		return nil, err
	}

	if !receipt.Success {
		return nil, fmt.Errorf("api: completion of upload %s not acknowledged: %s", uploadID, receipt.Message)
	}

	return &receipt, nil
}

// SendEvent posts one telemetry event. Callers treat failures as advisory.
func (c *Client) SendEvent(ctx context.Context, payload map[string]any) error {
	return c.doJSON(ctx, "POST", "/v1/bridge/healthcheck", payload, nil)
}
