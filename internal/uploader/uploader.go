// Package uploader moves finished JSONL files to cloud storage. Each file
// upload is a three-step exchange: obtain an upload token for the schema
// (cached across files and runs), stream the file to the token's pre-signed
// URL as a multipart request, then confirm completion with the API so the
// server registers the file. Transient failures retry with exponential
// backoff; a rejected token is invalidated so the next attempt starts with
// a fresh one.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/datasnap/bridge-go/internal/api"
	"github.com/datasnap/bridge-go/internal/jsonl"
)

// uploadRetries is how many times a failed upload is retried on top of the
// initial attempt. With the 1s exponential base the waits are 1s, 2s, 4s.
const uploadRetries = 3

// TokenAPI is the slice of the API client the uploader needs for tokens.
type TokenAPI interface {
	GenerateUploadToken(ctx context.Context, slug, mappingName string) (*api.UploadToken, error)
}

// CompletionAPI confirms finished uploads.
type CompletionAPI interface {
	NotifyUploadCompletion(ctx context.Context, uploadID, checksum string, fileSize, records int64) (*api.CompletionReceipt, error)
}

// TokenCache is the persistence the token source reads through.
type TokenCache interface {
	Get(key string) (*api.UploadToken, bool)
	Put(key string, token *api.UploadToken) error
	Invalidate(key string) error
}

// TokenSource resolves upload tokens through the cache, falling back to the
// API, and drops tokens the server has rejected.
type TokenSource struct {
	api    TokenAPI
	cache  TokenCache
	logger *slog.Logger
}

// NewTokenSource builds a cached token source.
func NewTokenSource(tokenAPI TokenAPI, cache TokenCache, logger *slog.Logger) *TokenSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenSource{api: tokenAPI, cache: cache, logger: logger}
}

// Token returns a valid upload token for the schema/mapping pair. With
// forceRefresh the cache is bypassed and overwritten.
func (ts *TokenSource) Token(ctx context.Context, slug, mappingName string, forceRefresh bool) (*api.UploadToken, error) {
	key := tokenKey(slug, mappingName)

	if !forceRefresh && ts.cache != nil {
		if token, ok := ts.cache.Get(key); ok {
			ts.logger.Debug("upload token served from cache", slog.String("key", key))

			return token, nil
		}
	}

	token, err := ts.api.GenerateUploadToken(ctx, slug, mappingName)
	if err != nil {
		return nil, fmt.Errorf("obtaining upload token for %s: %w", slug, err)
	}

	if ts.cache != nil {
		if err := ts.cache.Put(key, token); err != nil {
			ts.logger.Warn("caching upload token failed", slog.String("error", err.Error()))
		}
	}

	return token, nil
}

// Invalidate drops any cached token for the schema/mapping pair.
func (ts *TokenSource) Invalidate(slug, mappingName string) {
	if ts.cache == nil {
		return
	}

	if err := ts.cache.Invalidate(tokenKey(slug, mappingName)); err != nil {
		ts.logger.Warn("invalidating upload token failed", slog.String("error", err.Error()))
	}
}

func tokenKey(slug, mappingName string) string {
	return slug + ":" + mappingName
}

// Result describes one attempted file upload.
type Result struct {
	File       jsonl.FileInfo
	UploadID   string
	RetryCount int
	Duration   time.Duration
	Err        error
}

// OK reports whether the upload succeeded.
func (r Result) OK() bool { return r.Err == nil }

// FileUploader uploads single files. Safe for concurrent use.
type FileUploader struct {
	httpClient  *http.Client
	tokens      *TokenSource
	completions CompletionAPI
	limiter     *rate.Limiter
	progress    ProgressFunc
	logger      *slog.Logger

	// backoff builds the retry schedule; tests substitute a constant.
	backoff func() retry.Backoff
}

// UploaderOptions configures a FileUploader.
type UploaderOptions struct {
	HTTPClient *http.Client
	Tokens     *TokenSource
	Completion CompletionAPI

	// BandwidthLimit caps upload throughput in bytes per second; zero
	// means unlimited.
	BandwidthLimit int

	Progress ProgressFunc
	Logger   *slog.Logger
}

// NewFileUploader builds an uploader.
func NewFileUploader(opts UploaderOptions) *FileUploader {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.BandwidthLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.BandwidthLimit), opts.BandwidthLimit)
	}

	return &FileUploader{
		httpClient:  opts.HTTPClient,
		tokens:      opts.Tokens,
		completions: opts.Completion,
		limiter:     limiter,
		progress:    opts.Progress,
		logger:      opts.Logger,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(uploadRetries, retry.NewExponential(time.Second))
		},
	}
}

// Upload transfers one file and confirms it with the API. The returned
// result is populated even on failure so batch callers can report per-file
// outcomes.
func (u *FileUploader) Upload(ctx context.Context, file jsonl.FileInfo, slug, mappingName string) Result {
	start := time.Now()

	res := Result{File: file}
	forceRefresh := false

	err := retry.Do(ctx, u.backoff(), func(ctx context.Context) error {
		token, err := u.tokens.Token(ctx, slug, mappingName, forceRefresh)
		if err != nil {
			if api.TokenInvalid(err) {
				return err
			}

			return retry.RetryableError(err)
		}

		res.UploadID = token.UploadID

		if err := u.put(ctx, token, file); err != nil {
			if api.TokenInvalid(err) {
				u.logger.Warn("upload token rejected, refreshing",
					slog.String("file", file.Name()),
					slog.String("mapping", mappingName),
				)
				u.tokens.Invalidate(slug, mappingName)
				forceRefresh = true
				res.RetryCount++

				return retry.RetryableError(err)
			}

			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
				return err
			}

			res.RetryCount++

			return retry.RetryableError(err)
		}

		receipt, err := u.completions.NotifyUploadCompletion(ctx, token.UploadID, file.Checksum, file.Bytes, file.Records)
		if err != nil {
			res.RetryCount++

			return retry.RetryableError(fmt.Errorf("confirming upload of %s: %w", file.Name(), err))
		}

		if receipt.UploadID != "" {
			res.UploadID = receipt.UploadID
		}

		return nil
	})

	res.Duration = time.Since(start)
	res.Err = err

	if err == nil {
		u.logger.Info("file uploaded",
			slog.String("file", file.Name()),
			slog.Int64("records", file.Records),
			slog.Int64("bytes", file.Bytes),
			slog.Int("retries", res.RetryCount),
			slog.Duration("duration", res.Duration),
		)
	}

	return res
}

// put streams the file as a multipart request to the token's pre-signed
// URL. The file name is appended to the URL path verbatim.
func (u *FileUploader) put(ctx context.Context, token *api.UploadToken, file jsonl.FileInfo) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", file.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("sizing %s: %w", file.Path, err)
	}

	var src io.Reader = f

	if u.progress != nil {
		src = newProgressReader(src, info.Size(), file.Name(), u.progress)
	}

	if u.limiter != nil {
		src = &throttledReader{r: src, limiter: u.limiter, ctx: ctx}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := mw.WriteField("upload_id", token.UploadID); err != nil {
				return err
			}

			if err := mw.WriteField("checksum", file.Checksum); err != nil {
				return err
			}

			part, err := mw.CreateFormFile("file", file.Name())
			if err != nil {
				return err
			}

			if _, err := io.Copy(part, src); err != nil {
				return err
			}

			return mw.Close()
		}()

		pw.CloseWithError(err)
	}()

	url := strings.TrimRight(token.UploadURL, "/") + "/" + file.Name()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, pr)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())

	if token.Token != "" {
		req.Header.Set("Authorization", "Bearer "+token.Token)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", file.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort diagnostics

		return &api.APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("storage rejected %s: %s", file.Name(), strings.TrimSpace(string(body))),
			Err:        classifyUploadStatus(resp.StatusCode),
		}
	}

	return nil
}

func classifyUploadStatus(status int) error {
	switch {
	case status == 401:
		return api.ErrUnauthorized
	case status == 403:
		return api.ErrForbidden
	case status == 429:
		return api.ErrRateLimited
	case status >= 500:
		return api.ErrServer
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

// throttledReader applies the bandwidth limiter to each read.
type throttledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}

	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}
