package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFTPURL(t *testing.T) {
	t.Run("default port", func(t *testing.T) {
		host, path, err := parseFTPURL("ftp://ftp.cms.gov/pub/nppes/NPPES_Data_Dissemination_August_2026.zip")
		require.NoError(t, err)
		assert.Equal(t, "ftp.cms.gov:21", host)
		assert.Equal(t, "/pub/nppes/NPPES_Data_Dissemination_August_2026.zip", path)
	})

	t.Run("explicit port", func(t *testing.T) {
		host, path, err := parseFTPURL("ftp://mirror.example.com:2121/extracts/claims.csv")
		require.NoError(t, err)
		assert.Equal(t, "mirror.example.com:2121", host)
		assert.Equal(t, "/extracts/claims.csv", path)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		_, _, err := parseFTPURL("https://download.cms.gov/nppes/file.zip")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected scheme")
	})

	t.Run("no path", func(t *testing.T) {
		_, _, err := parseFTPURL("ftp://ftp.cms.gov")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no path")
	})

	t.Run("unparseable", func(t *testing.T) {
		_, _, err := parseFTPURL("://bad")
		require.Error(t, err)
	})
}

func TestNewFTPFetcherDefaultTimeout(t *testing.T) {
	f := NewFTPFetcher(FTPOptions{})
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
}
