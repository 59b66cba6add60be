package chatlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomchat/internal/store"
)

// SQLLog keeps a room's log in the message_lines table.
type SQLLog struct {
	room string
	repo *store.MessageRepository
}

// SQLFactory builds logs backed by repo.
func SQLFactory(repo *store.MessageRepository) Factory {
	return func(room string) Log {
		return &SQLLog{room: room, repo: repo}
	}
}

func (l *SQLLog) Append(ctx context.Context, line string) error {
	return l.repo.Append(ctx, l.room, line)
}

func (l *SQLLog) ReadAll(ctx context.Context) ([]string, error) {
	lines, err := l.repo.Lines(ctx, l.room)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

func (l *SQLLog) Delete(ctx context.Context) error {
	_, err := l.repo.DeleteRoom(ctx, l.room)
	return err
}

// RedisKeyPrefix namespaces room logs in Redis.
const RedisKeyPrefix = "roomchat:log:"

// RedisLog keeps a room's log as a Redis list.
type RedisLog struct {
	key    string
	client redis.UniversalClient
}

// RedisFactory builds logs stored in client.
func RedisFactory(client redis.UniversalClient) Factory {
	return func(room string) Log {
		return &RedisLog{key: RedisKeyPrefix + room, client: client}
	}
}

func (l *RedisLog) Append(ctx context.Context, line string) error {
	if err := l.client.RPush(ctx, l.key, line).Err(); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (l *RedisLog) ReadAll(ctx context.Context) ([]string, error) {
	lines, err := l.client.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

func (l *RedisLog) Delete(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("failed to delete log: %w", err)
	}
	return nil
}

// MemoryLog keeps a room's log in process memory. Lines are lost on
// restart; it backs the "memory" log backend and tests.
type MemoryLog struct {
	mu    sync.Mutex
	lines []string
}

// MemoryFactory returns a factory whose logs live as long as the factory
// itself. Asking twice for the same room yields the same log.
func MemoryFactory() Factory {
	var mu sync.Mutex
	logs := make(map[string]*MemoryLog)
	return func(room string) Log {
		mu.Lock()
		defer mu.Unlock()
		l, ok := logs[room]
		if !ok {
			l = &MemoryLog{}
			logs[room] = l
		}
		return l
	}
}

func (l *MemoryLog) Append(_ context.Context, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	return nil
}

func (l *MemoryLog) ReadAll(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.lines...), nil
}

func (l *MemoryLog) Delete(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
	return nil
}
