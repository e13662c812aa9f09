package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertText(t *testing.T) {
	assert.Equal(t, "NTP health alert on myntp (10.0.0.5)", AlertSubject("myntp (10.0.0.5)"))
	assert.Equal(t, "SSH command timed out contacting myntp (10.0.0.5)", TimeoutBody("myntp (10.0.0.5)", ""))
	assert.Equal(t, "SSH command timed out contacting myntp (10.0.0.5): chronyc tracking",
		TimeoutBody("myntp (10.0.0.5)", "chronyc tracking"))
	assert.Equal(t, "Unexpected error during NTP check: index out of range", ExceptionBody("index out of range"))
}
