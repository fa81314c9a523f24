package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNumber(t *testing.T) {
	assert.Equal(t, 1.25, Number(" 1.25 "))
	assert.Equal(t, -0.5, Number("-0.5%"))
	assert.Equal(t, 1234567.0, Number("1,234,567"))
	assert.Zero(t, Number("None"))
	assert.Zero(t, Number("-"))
	assert.Zero(t, Number("abc"))
}

func TestDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, Date("2024-03-15"))
	assert.Equal(t, want, Date("2024-03-15T00:00:00.000Z"))
	assert.Equal(t, want, Date("2024-03-15T00:00:00+0000"))
	assert.True(t, Date("yesterday").IsZero())
}
