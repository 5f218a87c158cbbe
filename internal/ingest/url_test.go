package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURLAcceptsKnownHosts(t *testing.T) {
	for _, raw := range []string{
		"https://www.youtube.com/watch?v=abc",
		"https://youtube.com/watch?v=abc",
		"https://m.youtube.com/watch?v=abc",
		"https://youtu.be/abc",
	} {
		_, err := ValidateURL(raw)
		assert.NoError(t, err, raw)
	}
}

func TestValidateURLRejectsOtherHosts(t *testing.T) {
	_, err := ValidateURL("https://vimeo.com/123")
	require.Error(t, err)
	var hostErr *ErrHostNotAccepted
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, "vimeo.com", hostErr.Host)
}

func TestCacheKeyIgnoresQueryString(t *testing.T) {
	a, err := ValidateURL("https://www.youtube.com/watch?v=abc&list=xyz")
	require.NoError(t, err)
	b, err := ValidateURL("https://www.youtube.com/watch?v=abc")
	require.NoError(t, err)
	assert.Equal(t, cacheKey(a), cacheKey(b))
}
