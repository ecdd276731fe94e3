package resilience

import (
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransientNil(t *testing.T) {
	assert.False(t, IsTransient(nil))
}

func TestIsTransientExplicitWrapper(t *testing.T) {
	err := NewTransientError(eris.New("429 from data.cms.gov"), 429)
	assert.True(t, IsTransient(err))

	wrapped := fmt.Errorf("download claims: %w", err)
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransientNetworkTimeout(t *testing.T) {
	var err net.Error = timeoutErr{}
	assert.True(t, IsTransient(err))
	assert.True(t, IsTransient(fmt.Errorf("fetch: %w", err)))
}

func TestIsTransientSyscallErrors(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("dial: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsTransient(fmt.Errorf("dial: %w", syscall.ECONNABORTED)))
	assert.False(t, IsTransient(fmt.Errorf("open: %w", syscall.ENOENT)))
}

func TestIsTransientMessageFragments(t *testing.T) {
	transient := []string{
		"read tcp: connection reset by peer",
		"write: broken pipe",
		"lookup download.cms.gov: temporary failure in name resolution",
		"lookup ftp.cms.gov: no such host",
		"net/http: TLS handshake timeout",
		"read: i/o timeout",
		"http: server closed idle connection",
		"net/http: transport connection broken",
	}
	for _, msg := range transient {
		assert.True(t, IsTransient(eris.New(msg)), msg)
	}

	permanent := []string{
		"no file matching npidata_pfile_*.csv",
		"csv: read row",
		"permission denied",
	}
	for _, msg := range permanent {
		assert.False(t, IsTransient(eris.New(msg)), msg)
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := eris.New("503 from download.cms.gov")
	err := NewTransientError(inner, 503)
	assert.Equal(t, inner.Error(), err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, 503, err.StatusCode)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 410} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
