//go:build debug
// +build debug

package peers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRememberLookup(t *testing.T) {
	_, ok := Lookup("10.0.0.9:4701")
	assert.False(t, ok)

	assert.True(t, Remember("10.0.0.9:4701", 85))
	id, ok := Lookup("10.0.0.9:4701")
	assert.True(t, ok)
	assert.Equal(t, uint32(85), id)

	Remember("10.0.0.9:4701", 90)
	id, _ = Lookup("10.0.0.9:4701")
	assert.Equal(t, uint32(90), id)
}
