package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMailbox_KeepsLatest(t *testing.T) {
	m := NewMailbox[int]()
	assert.True(t, m.Put(1))
	assert.True(t, m.Put(2))
	assert.True(t, m.Put(3))

	assert.Equal(t, 3, <-m.C())
	assert.Equal(t, uint64(2), m.Drops())

	select {
	case v := <-m.C():
		t.Fatalf("unexpected value %d", v)
	default:
	}
}

func TestMailbox_CloseStopsPuts(t *testing.T) {
	m := NewMailbox[string]()
	m.Close()
	m.Close()

	assert.True(t, m.Closed())
	assert.False(t, m.Put("late"))

	_, ok := <-m.C()
	assert.False(t, ok)
}
