// Package download fetches artifacts into a temporary file and verifies their
// checksum before anyone else gets to see them.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"git.home.luguber.info/inful/chainloader/internal/digest"
	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/metrics"
	"git.home.luguber.info/inful/chainloader/internal/progress"
	"git.home.luguber.info/inful/chainloader/internal/retry"
)

var tracer = otel.Tracer("git.home.luguber.info/inful/chainloader/internal/download")

// TempPattern names in-flight downloads. The leading dot keeps them from
// matching the rotating artifact names in the same directory.
const TempPattern = ".download-*.part"

// Downloader writes verified temp files into one directory.
type Downloader struct {
	client   *http.Client
	dir      string
	policy   retry.Policy
	ui       progress.UI
	recorder metrics.Recorder
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithPolicy sets the retry budget. The default allows five attempts.
func WithPolicy(p retry.Policy) Option {
	return func(d *Downloader) { d.policy = p }
}

func WithUI(ui progress.UI) Option {
	return func(d *Downloader) {
		if ui != nil {
			d.ui = ui
		}
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(d *Downloader) {
		if r != nil {
			d.recorder = r
		}
	}
}

// New returns a downloader writing temp files into dir. Keeping temp files
// next to the destination makes the final move a rename.
func New(client *http.Client, dir string, opts ...Option) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Downloader{
		client:   client,
		dir:      dir,
		policy:   retry.DefaultPolicy(),
		ui:       progress.Noop{},
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches url and returns the path of a temp file whose digest
// matches expected. The caller owns the temp file. On failure no temp file
// is left behind; the last attempt's error is returned, classified as a
// network or checksum error.
func (d *Downloader) Download(ctx context.Context, url, expected string) (string, error) {
	ctx, span := tracer.Start(ctx, "download.artifact", trace.WithAttributes(
		attribute.String("url", url),
		attribute.String("checksum.algorithm", string(digest.ForChecksum(expected))),
	))
	defer span.End()
	return d.fetch(ctx, span, url, expected, true)
}

// DownloadUnverified fetches url like Download but skips the digest check.
// It serves files whose checksum is only known for a derived result, such as
// an update diff that is verified after it is applied.
func (d *Downloader) DownloadUnverified(ctx context.Context, url string) (string, error) {
	ctx, span := tracer.Start(ctx, "download.unverified", trace.WithAttributes(attribute.String("url", url)))
	defer span.End()
	return d.fetch(ctx, span, url, "", false)
}

func (d *Downloader) fetch(ctx context.Context, span trace.Span, url, expected string, verify bool) (string, error) {
	var path string
	err := d.policy.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			d.recorder.IncDownloadRetry()
		}
		p, err := d.attempt(ctx, url, expected, verify)
		if err == nil {
			path = p
			d.recorder.IncDownloadResult(metrics.ResultSuccess)
			return nil
		}
		if ctx.Err() != nil {
			d.recorder.IncDownloadResult(metrics.ResultCanceled)
			return retry.Stop(err)
		}
		if errors.HasCategory(err, errors.CategoryChecksum) {
			d.recorder.IncDownloadResult(metrics.ResultMismatch)
		} else {
			d.recorder.IncDownloadResult(metrics.ResultFailed)
		}
		slog.Warn("Download attempt failed", logfields.URL(url), logfields.Attempt(attempt), logfields.Error(err))
		if errors.HasCategory(err, errors.CategoryFileSystem) {
			return retry.Stop(err)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		return "", err
	}
	return path, nil
}

func (d *Downloader) attempt(ctx context.Context, url, expected string, verify bool) (path string, err error) {
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to create download directory").
			WithContext("path", d.dir).Build()
	}
	tmp, err := os.CreateTemp(d.dir, TempPattern)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to create download temp file").Build()
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", retry.Stop(errors.WrapError(err, errors.CategoryConfig, "invalid download url").
			WithContext("url", url).Build())
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", errors.NetworkError("download request failed").WithCause(err).WithContext("url", url).Build()
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.NetworkError(fmt.Sprintf("download returned HTTP %d", resp.StatusCode)).
			WithContext("url", url).WithContext("status", resp.StatusCode).Build()
	}

	d.ui.Start()
	if resp.ContentLength > 0 {
		d.ui.SetDownloadSize(resp.ContentLength)
	}

	h := digest.ForChecksum(expected).New()
	counter := &countingWriter{ui: d.ui}
	n, err := io.Copy(io.MultiWriter(tmp, h, counter), resp.Body)
	d.recorder.AddDownloadedBytes(n)
	if err != nil {
		return "", errors.NetworkError("download interrupted").WithCause(err).
			WithContext("url", url).WithContext("bytes", n).Build()
	}
	if err := tmp.Close(); err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to flush download").Build()
	}
	d.ui.Complete()

	if !verify {
		return tmp.Name(), nil
	}
	actual := digest.Sum(h)
	if !digest.Matches(actual, expected) {
		return "", errors.ChecksumError("downloaded file checksum did not match").
			WithContext("url", url).
			WithContext("expected", expected).
			WithContext("actual", actual).Build()
	}
	return tmp.Name(), nil
}

type countingWriter struct {
	ui    progress.UI
	total int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.total += int64(len(p))
	c.ui.SetDownloaded(c.total)
	return len(p), nil
}
