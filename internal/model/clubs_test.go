package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalClubs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		clubs []string
		want  []string
	}{
		{"nil", nil, nil},
		{"empty", []string{}, nil},
		{"all blank", []string{"", "  "}, nil},
		{"lowercases and trims", []string{" Chess ", "CODING"}, []string{"chess", "coding"}},
		{"deduplicates", []string{"chess", "Chess", "chess "}, []string{"chess"}},
		{"sorts", []string{"swimming", "art", "chess"}, []string{"art", "chess", "swimming"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanonicalClubs(tt.clubs))
		})
	}
}
