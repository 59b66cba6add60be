package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// UserRepository handles user persistence using GORM.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user, failing with ErrUserExists on a taken username.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("username = ?", user.Username).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check username: %w", err)
		}
		if count > 0 {
			return ErrUserExists
		}

		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrUserExists
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

// FindByUsername loads a user record.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// UpdatePasswordHash replaces the stored hash for username.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	result := r.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Update("password_hash", hash)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RoomRepository persists the list of room names.
type RoomRepository struct {
	db *gorm.DB
}

// NewRoomRepository creates a new RoomRepository.
func NewRoomRepository(db *gorm.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// ListRoomNames returns every persisted name in creation order.
func (r *RoomRepository) ListRoomNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&Room{}).Order("id").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return names, nil
}

// AddRoomName persists name, failing with ErrRoomExists if already present.
func (r *RoomRepository) AddRoomName(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Room{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check room: %w", err)
		}
		if count > 0 {
			return ErrRoomExists
		}

		if err := tx.Create(&Room{Name: name}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrRoomExists
			}
			return fmt.Errorf("failed to create room: %w", err)
		}
		return nil
	})
}

// RemoveRoomName deletes name, failing with ErrRoomNotFound if absent.
func (r *RoomRepository) RemoveRoomName(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Where("name = ?", name).Delete(&Room{})
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// MessageRepository stores room log lines.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append adds line to the end of room's log.
func (r *MessageRepository) Append(ctx context.Context, room, line string) error {
	if err := r.db.WithContext(ctx).Create(&MessageLine{Room: room, Line: line}).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Lines returns room's log in append order.
func (r *MessageRepository) Lines(ctx context.Context, room string) ([]string, error) {
	var lines []string
	if err := r.db.WithContext(ctx).Model(&MessageLine{}).Where("room = ?", room).Order("id").Pluck("line", &lines).Error; err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return lines, nil
}

// DeleteRoom removes every line of room and reports how many were removed.
func (r *MessageRepository) DeleteRoom(ctx context.Context, room string) (int64, error) {
	result := r.db.WithContext(ctx).Where("room = ?", room).Delete(&MessageLine{})
	if err := result.Error; err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return result.RowsAffected, nil
}
