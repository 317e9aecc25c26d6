package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetters(t *testing.T) {
	t.Setenv("NEARCHAT_TEST_STRING", "value")
	t.Setenv("NEARCHAT_TEST_INT", "42")
	t.Setenv("NEARCHAT_TEST_BAD_INT", "forty-two")
	t.Setenv("NEARCHAT_TEST_BOOL", "true")
	t.Setenv("NEARCHAT_TEST_DURATION", "750ms")

	assert.Equal(t, "value", GetString("NEARCHAT_TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", GetString("NEARCHAT_TEST_MISSING", "fallback"))
	assert.Equal(t, 42, GetInt("NEARCHAT_TEST_INT", 0))
	assert.Equal(t, 7, GetInt("NEARCHAT_TEST_BAD_INT", 7))
	assert.True(t, GetBool("NEARCHAT_TEST_BOOL", false))
	assert.Equal(t, 750*time.Millisecond, GetDuration("NEARCHAT_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetDuration("NEARCHAT_TEST_MISSING", time.Second))
}
