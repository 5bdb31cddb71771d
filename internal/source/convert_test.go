package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConvertValueTime(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-15T10:30:00Z", convertValue(ts))
}

func TestConvertValueBytes(t *testing.T) {
	assert.Equal(t, "hello", convertValue([]byte("hello")))
}

func TestConvertValueInvalidUTF8Dropped(t *testing.T) {
	assert.Equal(t, "ab", convertValue([]byte{'a', 0xff, 'b'}))
}

func TestConvertValueNil(t *testing.T) {
	assert.Nil(t, convertValue(nil))
}

func TestConvertValueScalarsPassThrough(t *testing.T) {
	assert.Equal(t, int64(42), convertValue(int64(42)))
	assert.Equal(t, 3.14, convertValue(3.14))
	assert.Equal(t, true, convertValue(true))
	assert.Equal(t, "s", convertValue("s"))
}

func TestConvertRow(t *testing.T) {
	row := Row{
		"id":         int64(1),
		"created_at": time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		"blob":       []byte("data"),
		"note":       nil,
	}

	got := convertRow(row)

	assert.Equal(t, int64(1), got["id"])
	assert.Equal(t, "2024-06-01T00:00:00Z", got["created_at"])
	assert.Equal(t, "data", got["blob"])
	assert.Nil(t, got["note"])
}
