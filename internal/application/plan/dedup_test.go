package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingRegistryRegisterAndCancel(t *testing.T) {
	r := NewPendingRegistry()
	assert.False(t, r.Has("fp1"))

	canceled := false
	r.Register("fp1", func() { canceled = true })
	assert.True(t, r.Has("fp1"))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Cancel("fp1"))
	assert.True(t, canceled)
	assert.False(t, r.Has("fp1"))
	assert.Equal(t, 0, r.Len())
}

func TestPendingRegistryCancelMissing(t *testing.T) {
	r := NewPendingRegistry()
	assert.False(t, r.Cancel("absent"))
}

// 同指纹至多一条在途记录：后注册顶掉先注册
func TestPendingRegistryAtMostOnePerFingerprint(t *testing.T) {
	r := NewPendingRegistry()

	firstCanceled := false
	r.Register("fp", func() { firstCanceled = true })
	r.Register("fp", func() {})

	assert.Equal(t, 1, r.Len())

	// 取消只触发当前登记的 cancel
	assert.True(t, r.Cancel("fp"))
	assert.False(t, firstCanceled)
}

func TestPendingRegistryRelease(t *testing.T) {
	r := NewPendingRegistry()
	_, cancel := context.WithCancel(context.Background())
	entry := r.Register("fp", cancel)

	r.Release(entry)
	assert.False(t, r.Has("fp"))

	// 幂等
	r.Release(entry)
	assert.Equal(t, 0, r.Len())
}

// 被顶掉的请求收尾时不得移除替代者的条目
func TestPendingRegistryReleaseIgnoresStaleEntry(t *testing.T) {
	r := NewPendingRegistry()
	stale := r.Register("fp", func() {})
	r.Register("fp", func() {})

	r.Release(stale)
	assert.True(t, r.Has("fp"))
}

func TestPendingRegistryIndependentFingerprints(t *testing.T) {
	r := NewPendingRegistry()
	r.Register("a", func() {})
	r.Register("b", func() {})

	assert.Equal(t, 2, r.Len())
	assert.True(t, r.Cancel("a"))
	assert.True(t, r.Has("b"))
}
