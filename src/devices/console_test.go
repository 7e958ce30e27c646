package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleFeedAndRead(t *testing.T) {
	c := NewConsole()
	c.Feed([]byte("hello"))

	buf := make([]byte, 5)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestConsoleWriteAndWritten(t *testing.T) {
	c := NewConsole()
	n, err := c.Write([]byte("out"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("out"), c.Written())
}
