package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"clanity/entity"
)

func TestValiditySetGet(t *testing.T) {
	v := NewValidity(time.Minute)

	_, fresh := v.Get(7)
	assert.False(t, fresh)

	v.Set(7, entity.TierTwo)
	level, fresh := v.Get(7)
	assert.True(t, fresh)
	assert.Equal(t, entity.TierTwo, level)
}

func TestValidityExpires(t *testing.T) {
	v := NewValidity(10 * time.Millisecond)
	v.Set(7, entity.TierOne)

	time.Sleep(30 * time.Millisecond)

	_, fresh := v.Get(7)
	assert.False(t, fresh)
}

func TestValidityDrop(t *testing.T) {
	v := NewValidity(time.Minute)
	v.Set(7, entity.TierPromo)
	v.Drop(7)

	_, fresh := v.Get(7)
	assert.False(t, fresh)
}

func TestValiditySetReplaces(t *testing.T) {
	v := NewValidity(time.Minute)
	v.Set(7, entity.TierOne)
	v.Set(7, entity.TierThree)

	level, fresh := v.Get(7)
	assert.True(t, fresh)
	assert.Equal(t, entity.TierThree, level)
}

func TestJanitorEvicts(t *testing.T) {
	v := NewValidity(10 * time.Millisecond)
	v.Set(7, entity.TierOne)
	v.StartJanitor(5 * time.Millisecond)
	defer v.Stop()

	time.Sleep(50 * time.Millisecond)

	v.mu.RLock()
	_, present := v.entries[7]
	v.mu.RUnlock()
	assert.False(t, present)
}
