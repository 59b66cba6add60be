package chatlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/roomchat/internal/store"
)

// exerciseLog checks the contract every backend must satisfy.
func exerciseLog(t *testing.T, l Log) {
	t.Helper()
	ctx := context.Background()

	lines, err := l.ReadAll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, lines)
	assert.Empty(t, lines)

	require.NoError(t, l.Append(ctx, "alice: hi"))
	require.NoError(t, l.Append(ctx, "bob: hi"))
	require.NoError(t, l.Append(ctx, "bob: hi"))

	lines, err = l.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice: hi", "bob: hi", "bob: hi"}, lines)

	require.NoError(t, l.Delete(ctx))
	lines, err = l.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)

	// Deleting twice is tolerated.
	require.NoError(t, l.Delete(ctx))
}

func TestFileLog(t *testing.T) {
	factory, err := FileFactory(t.TempDir(), nil)
	require.NoError(t, err)
	exerciseLog(t, factory("general"))
}

func TestFileLogKeepsOneEntryPerLine(t *testing.T) {
	ctx := context.Background()
	l := NewFileLog(t.TempDir(), "general", nil)

	require.NoError(t, l.Append(ctx, "alice: multi\nline\r\ntext"))
	lines, err := l.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice: multi line text"}, lines)

	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, "alice: multi line text\n", string(raw))
}

func TestFileLogsAreIsolatedPerRoom(t *testing.T) {
	ctx := context.Background()
	factory, err := FileFactory(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, factory("a").Append(ctx, "x: in a"))
	lines, err := factory("b").ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestSQLLog(t *testing.T) {
	db, err := store.Open(":memory:", logger.Default.LogMode(logger.Silent))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	exerciseLog(t, SQLFactory(store.NewMessageRepository(db))("general"))
}

func TestRedisLog(t *testing.T) {
	addr := os.Getenv("ROOMCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	room := "test-" + time.Now().Format("150405.000000000")
	exerciseLog(t, RedisFactory(client)(room))
}

func TestMemoryLog(t *testing.T) {
	exerciseLog(t, MemoryFactory()("general"))
}
