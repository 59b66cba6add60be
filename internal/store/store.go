// Package store persists users, room names and room message lines in a SQL
// database through gorm. SQLite is the default driver.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUserExists is returned when registering a username that is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when a username has no record.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoomExists is returned when persisting a room name twice.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound is returned when removing an unknown room name.
	ErrRoomNotFound = errors.New("room not found")
)

// User is the credential record of one account.
type User struct {
	Username     string `gorm:"primaryKey;type:text"`
	PasswordHash string `gorm:"not null;type:text"`
	Role         string `gorm:"not null;type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for the User entity.
func (User) TableName() string {
	return "users"
}

// Room is a persisted room name. ID keeps creation order.
type Room struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"uniqueIndex;not null;type:text"`
	CreatedAt time.Time
}

// TableName returns the table name for the Room entity.
func (Room) TableName() string {
	return "rooms"
}

// MessageLine is one entry of a room's append-only message log.
type MessageLine struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Room      string `gorm:"index;not null;type:text"`
	Line      string `gorm:"not null;type:text"`
	CreatedAt time.Time
}

// TableName returns the table name for the MessageLine entity.
func (MessageLine) TableName() string {
	return "message_lines"
}

// Open connects to the SQLite database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func Open(path string, lg logger.Interface) (*gorm.DB, error) {
	if lg == nil {
		lg = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         lg,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}

	// SQLite allows a single writer; serializing through one connection
	// avoids "database is locked" under concurrent sessions.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables used by the service.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Room{}, &MessageLine{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
