package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"herlink/pkg/domain"
)

const migrateLockID int64 = 48154815

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB

	// appendMu keeps the server-assigned timestamps of this instance
	// non-decreasing even when the wall clock steps backwards.
	appendMu sync.Mutex
	lastAt   time.Time
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ProfileModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already-open gorm handle without migrating.
// Used by tests that supply a mocked connection.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "full_name", "password_hash", "updated_at"}),
	}).Create(&model).Error
	if err != nil && strings.Contains(err.Error(), "idx_user_models_email") {
		return ErrDuplicateEmail
	}
	return err
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveProfile upserts the public profile row for a user.
func (s *GormStore) SaveProfile(p domain.Profile) error {
	model := profileToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"business_name", "bio", "location", "avatar_url", "updated_at"}),
	}).Create(&model).Error
}

// GetProfile returns the public profile for a user, joining the display name
// from the users table. A user without a profile row still resolves with a
// name as long as the user exists.
func (s *GormStore) GetProfile(userID string) (domain.Profile, bool, error) {
	user, ok, err := s.GetUserByID(userID)
	if err != nil || !ok {
		return domain.Profile{}, false, err
	}
	profile := domain.Profile{UserID: user.ID, FullName: user.FullName}
	var model ProfileModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return profile, true, nil
		}
		return domain.Profile{}, false, err
	}
	profile.BusinessName = model.BusinessName
	profile.Bio = model.Bio
	profile.Location = model.Location
	profile.AvatarURL = model.AvatarURL
	return profile, true, nil
}

// AppendMessage durably records a message and returns it with the
// store-assigned sequence and timestamp filled in.
func (s *GormStore) AppendMessage(msg domain.Message) (domain.Message, error) {
	model := messageToModel(msg)
	model.CreatedAt = s.nextTimestamp()
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return messageFromModel(model), nil
}

func (s *GormStore) nextTimestamp() time.Time {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	now := time.Now().UTC()
	if now.Before(s.lastAt) {
		now = s.lastAt
	}
	s.lastAt = now
	return now
}

// ListPairMessages returns the full history between two users, in either
// direction, oldest first. Ties on created_at fall back to insertion order.
func (s *GormStore) ListPairMessages(userA, userB string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// conversationsQuery reduces the message log to the latest message per
// distinct counterpart of the user, most recent pair first. DISTINCT ON picks
// one row per counterpart; the outer ORDER BY re-sorts pairs by recency with
// the insertion sequence as the deterministic tiebreak.
const conversationsQuery = `
SELECT * FROM (
	SELECT DISTINCT ON (counterpart_id)
		CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS counterpart_id,
		id AS last_message_id,
		content AS last_message,
		created_at AS last_message_at,
		seq
	FROM message_models
	WHERE sender_id = ? OR receiver_id = ?
	ORDER BY counterpart_id, created_at DESC, seq DESC
) latest
ORDER BY last_message_at DESC, seq DESC`

type conversationRow struct {
	CounterpartID string
	LastMessageID string
	LastMessage   string
	LastMessageAt time.Time
	Seq           int64
}

// ListConversations returns the user's conversation list without profile
// data; callers join counterpart name/avatar.
func (s *GormStore) ListConversations(userID string) ([]domain.ConversationSummary, error) {
	var rows []conversationRow
	if err := s.db.Raw(conversationsQuery, userID, userID, userID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	items := make([]domain.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.ConversationSummary{
			CounterpartID: row.CounterpartID,
			LastMessageID: row.LastMessageID,
			LastMessage:   row.LastMessage,
			LastMessageAt: row.LastMessageAt,
		})
	}
	return items, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		FullName:     m.FullName,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		UserID:       p.UserID,
		BusinessName: p.BusinessName,
		Bio:          p.Bio,
		Location:     p.Location,
		AvatarURL:    p.AvatarURL,
		UpdatedAt:    time.Now().UTC(),
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Seq:        m.Seq,
		CreatedAt:  m.CreatedAt,
	}
}
