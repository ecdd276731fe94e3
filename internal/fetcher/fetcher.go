// Package fetcher downloads and parses remote data extracts: rate-limited
// HTTP with retry, anonymous FTP, streaming CSV, XLSX, and ZIP extraction.
package fetcher

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// HeadETag performs a HEAD request and returns the ETag header value.
	HeadETag(ctx context.Context, url string) (string, error)

	// DownloadIfChanged fetches the URL only if the ETag has changed.
	// Returns (body, newETag, changed, error). If not changed, body is nil and changed is false.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}

// Router dispatches downloads by URL scheme: ftp:// URLs go to the FTP
// fetcher, everything else to HTTP. The conditional-download methods are
// HTTP-only; FTP has no ETag notion.
type Router struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// NewRouter builds a scheme-routing Fetcher.
func NewRouter(httpOpts HTTPOptions, ftpOpts FTPOptions) *Router {
	return &Router{
		http: NewHTTPFetcher(httpOpts),
		ftp:  NewFTPFetcher(ftpOpts),
	}
}

func isFTP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme == "ftp"
}

// Download fetches the URL with the scheme-appropriate client.
func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if isFTP(rawURL) {
		return r.ftp.Download(ctx, rawURL)
	}
	return r.http.Download(ctx, rawURL)
}

// DownloadToFile fetches the URL to a local file with the scheme-appropriate client.
func (r *Router) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	if isFTP(rawURL) {
		return r.ftp.DownloadToFile(ctx, rawURL, path)
	}
	return r.http.DownloadToFile(ctx, rawURL, path)
}

// HeadETag returns the ETag for HTTP URLs; FTP URLs are an error.
func (r *Router) HeadETag(ctx context.Context, rawURL string) (string, error) {
	if isFTP(rawURL) {
		return "", eris.Errorf("fetcher: etag not supported for ftp url %s", rawURL)
	}
	return r.http.HeadETag(ctx, rawURL)
}

// DownloadIfChanged performs a conditional fetch for HTTP URLs; FTP URLs are an error.
func (r *Router) DownloadIfChanged(ctx context.Context, rawURL string, etag string) (io.ReadCloser, string, bool, error) {
	if isFTP(rawURL) {
		return nil, "", false, eris.Errorf("fetcher: conditional fetch not supported for ftp url %s", rawURL)
	}
	return r.http.DownloadIfChanged(ctx, rawURL, etag)
}
