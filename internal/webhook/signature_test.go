package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("key", body)

	assert.True(t, VerifySignature("key", body, sig))
	assert.True(t, VerifySignature("key", body, "sha256="+sig))
	assert.True(t, VerifySignature("key", body, strings.ToUpper(sig)))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("key", []byte(`{"a":2}`), sig))
	assert.False(t, VerifySignature("key", body, "not-hex"))
	assert.False(t, VerifySignature("key", body, sig[:10]))
}
