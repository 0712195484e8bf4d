package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashContact(t *testing.T) {
	h1 := HashContact("Jordan@Example.com")
	h2 := HashContact(" jordan@example.com ")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.Empty(t, HashContact(""))
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"email", "reach me at jordan@example.com", "reach me at [EMAIL]"},
		{"phone", "call 555-123-4567 after 5", "call [PHONE] after 5"},
		{"e164", "text +15551234567", "text [PHONE]"},
		{"both", "jordan@example.com or (555) 123-4567", "[EMAIL] or [PHONE]"},
		{"clean", "Tuesday at 3 works", "Tuesday at 3 works"},
		{"card", "my card is 4111 1111 1111 1111 thanks", "my card is [CARD_1111] thanks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ScrubPII(tt.input))
		})
	}
}
