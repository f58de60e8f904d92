package sessionpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenPoolEvictsFIFOWhenFull(t *testing.T) {
	p := NewTokenPool(2)
	p.Push("a")
	p.Push("b")
	p.Push("c") // evicts "a"

	assert.Equal(t, 2, p.Len())
	token, ok := p.Pop()
	assert.True(t, ok)
	assert.Equal(t, "c", token)

	token, ok = p.Pop()
	assert.True(t, ok)
	assert.Equal(t, "b", token)

	_, ok = p.Pop()
	assert.False(t, ok)
}

func TestTokenPoolNeverStoresDuplicates(t *testing.T) {
	p := NewTokenPool(5)
	p.Push("x")
	p.Push("x")
	assert.Equal(t, 1, p.Len())
}

func TestTokenPoolDiscardRemovesRegardlessOfPosition(t *testing.T) {
	p := NewTokenPool(5)
	p.Push("a")
	p.Push("b")
	p.Push("c")
	p.Discard("b")
	assert.Equal(t, 2, p.Len())

	token, _ := p.Pop()
	assert.Equal(t, "c", token)
	token, _ = p.Pop()
	assert.Equal(t, "a", token)
}

func TestTokenPoolCapacityNeverExceedsConfigured(t *testing.T) {
	p := NewTokenPool(3)
	for i := 0; i < 10; i++ {
		p.Push(string(rune('a' + i)))
	}
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, 3, p.Capacity())
}
