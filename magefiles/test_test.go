//go:build mage

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTargetArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantMage []string
		wantRest []string
	}{
		{
			name:     "target with flags",
			args:     []string{"mage", "-v", "test:all", "--run", "TestOpen"},
			wantMage: []string{"mage", "-v", "test:all"},
			wantRest: []string{"--run", "TestOpen"},
		},
		{
			name:     "target only",
			args:     []string{"mage", "build"},
			wantMage: []string{"mage", "build"},
		},
		{
			name:     "no target",
			args:     []string{"mage", "-l"},
			wantMage: []string{"mage", "-l"},
		},
		{
			name:     "separator first",
			args:     []string{"mage", "--", "smoke", "--keep"},
			wantMage: []string{"mage", "--", "smoke", "--keep"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mage, rest := splitTargetArgs(tt.args)
			assert.Equal(t, tt.wantMage, mage)
			assert.ElementsMatch(t, tt.wantRest, rest)
		})
	}
}
