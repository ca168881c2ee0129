package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTokenBucket_AllowBurst 初始容量允许突发消耗
func TestTokenBucket_AllowBurst(t *testing.T) {
	tb := NewTokenBucket(60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "第%d次请求应在突发容量内", i+1)
	}
	// 突发耗尽后立即请求被拒绝
	assert.False(t, tb.Allow())
}

// TestTokenBucket_Refill 随时间推移令牌恢复
func TestTokenBucket_Refill(t *testing.T) {
	// 600 QPM = 每100ms一个令牌
	tb := NewTokenBucket(600, 1)

	require.True(t, tb.Allow())
	require.False(t, tb.Allow())

	time.Sleep(150 * time.Millisecond)
	assert.True(t, tb.Allow())
}

// TestTokenBucket_WaitImmediate 有令牌时Wait立即返回
func TestTokenBucket_WaitImmediate(t *testing.T) {
	tb := NewTokenBucket(60, 3)

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestTokenBucket_WaitBlocks 令牌耗尽时Wait阻塞至补充
func TestTokenBucket_WaitBlocks(t *testing.T) {
	// 600 QPM: 耗尽后约100ms恢复
	tb := NewTokenBucket(600, 1)
	require.True(t, tb.Allow())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

// TestTokenBucket_WaitCancel 上下文取消时Wait返回错误
func TestTokenBucket_WaitCancel(t *testing.T) {
	// 1 QPM: 下一个令牌在一分钟后，必须经由取消退出
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestNewTokenBucket_Defaults 非法参数回退到安全默认值
func TestNewTokenBucket_Defaults(t *testing.T) {
	tb := NewTokenBucket(0, 0)
	assert.True(t, tb.Allow())

	tb2 := NewTokenBucket(-5, -1)
	assert.True(t, tb2.Allow())
}
