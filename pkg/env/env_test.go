package env

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvString(t *testing.T) {
	os.Setenv("COURIER_TEST_STRING", "value")
	defer os.Unsetenv("COURIER_TEST_STRING")

	assert.Equal(t, "value", GetEnvString("COURIER_TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", GetEnvString("COURIER_TEST_MISSING", "fallback"))
}

func TestGetEnvBool(t *testing.T) {
	os.Setenv("COURIER_TEST_BOOL", "true")
	defer os.Unsetenv("COURIER_TEST_BOOL")

	assert.True(t, GetEnvBool("COURIER_TEST_BOOL", false))
	assert.False(t, GetEnvBool("COURIER_TEST_MISSING", false))
}

func TestGetEnvDuration(t *testing.T) {
	os.Setenv("COURIER_TEST_DUR", "45s")
	defer os.Unsetenv("COURIER_TEST_DUR")

	assert.Equal(t, 45*time.Second, GetEnvDuration("COURIER_TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("COURIER_TEST_MISSING", time.Minute))
}

func TestValidators(t *testing.T) {
	assert.True(t, IsValidEmail("user@example.com"))
	assert.False(t, IsValidEmail("not-an-email"))

	assert.True(t, IsValidAccountID("100012345678901"))
	assert.False(t, IsValidAccountID("abc"))

	assert.True(t, IsValidTOTPSecret("JBSWY3DPEHPK3PXPJBSWY3DP"))
	assert.False(t, IsValidTOTPSecret("short"))

	assert.True(t, IsValidURL("https://example.com"))
	assert.True(t, IsValidURL("wss://edge.example.com:443/ws"))
	assert.False(t, IsValidURL("example.com"))
}
