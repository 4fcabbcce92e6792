package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, GetDuration("test.duration.unset", 5*time.Second))

	Set("test.duration.string", "2m")
	assert.Equal(t, 2*time.Minute, GetDuration("test.duration.string", time.Second))

	Set("test.duration.seconds", 30)
	assert.Equal(t, 30*time.Second, GetDuration("test.duration.seconds", time.Second))

	Set("test.duration.bad", "soon")
	assert.Equal(t, time.Second, GetDuration("test.duration.bad", time.Second))
}

func TestGettersFallBackToDefault(t *testing.T) {
	assert.Equal(t, 7, GetInt("test.int.unset", 7))
	assert.Equal(t, "x", GetString("test.string.unset", "x"))
	assert.True(t, GetBool("test.bool.unset", true))

	Set("test.int", 3)
	assert.Equal(t, 3, GetInt("test.int", 7))
}
