package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"formpilot/pkg/domain"
)

const migrateLockID int64 = 40512207

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
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
		if err := tx.AutoMigrate(&FormModel{}, &SubmissionModel{}, &CredentialModel{}, &ConversationModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
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

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveForm creates or updates a form.
func (s *GormStore) SaveForm(ctx context.Context, form domain.Form) error {
	model, err := formToModel(form)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "definition", "shareable_link", "short_link",
			"tool", "external_id", "edit_link", "is_active", "updated_at",
		}),
	}).Create(&model).Error
}

// GetForm retrieves a form by ID.
func (s *GormStore) GetForm(ctx context.Context, id string) (domain.Form, bool, error) {
	var model FormModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Form{}, false, nil
		}
		return domain.Form{}, false, err
	}
	return formFromModel(model), true, nil
}

// ListFormsByUser returns a user's forms, newest first.
func (s *GormStore) ListFormsByUser(ctx context.Context, userID string) ([]domain.Form, error) {
	var models []FormModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Form, 0, len(models))
	for _, m := range models {
		res = append(res, formFromModel(m))
	}
	return res, nil
}

// SetFormActive toggles whether a form accepts views and submissions.
func (s *GormStore) SetFormActive(ctx context.Context, id string, active bool) error {
	return s.db.WithContext(ctx).Model(&FormModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  active,
			"updated_at": nowUTC(),
		}).Error
}

// AddSubmission appends a submission and bumps the form counter in one transaction.
func (s *GormStore) AddSubmission(ctx context.Context, sub domain.Submission) error {
	data, err := json.Marshal(sub.Data)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	model := SubmissionModel{
		ID:          sub.ID,
		FormID:      sub.FormID,
		Data:        data,
		IP:          sub.IP,
		UserAgent:   sub.UserAgent,
		SubmittedAt: sub.SubmittedAt,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&FormModel{}).
			Where("id = ?", sub.FormID).
			UpdateColumn("submission_count", gorm.Expr("submission_count + ?", 1)).Error
	})
}

// ListSubmissions returns a form's submissions in arrival order.
func (s *GormStore) ListSubmissions(ctx context.Context, formID string) ([]domain.Submission, error) {
	var models []SubmissionModel
	if err := s.db.WithContext(ctx).Where("form_id = ?", formID).Order("submitted_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Submission, 0, len(models))
	for _, m := range models {
		var data map[string]any
		if len(m.Data) > 0 {
			_ = json.Unmarshal(m.Data, &data)
		}
		res = append(res, domain.Submission{
			ID:          m.ID,
			FormID:      m.FormID,
			Data:        data,
			IP:          m.IP,
			UserAgent:   m.UserAgent,
			SubmittedAt: m.SubmittedAt,
		})
	}
	return res, nil
}

// SaveCredential upserts the credential for (user, provider).
func (s *GormStore) SaveCredential(ctx context.Context, cred domain.ProviderCredential) error {
	model := credentialToModel(cred)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_ciphertext", "access_iv", "access_tag",
			"refresh_ciphertext", "refresh_iv", "refresh_tag",
			"token_type", "expires_at", "scope", "updated_at",
		}),
	}).Create(&model).Error
}

// GetCredential returns the stored credential for (user, provider).
func (s *GormStore) GetCredential(ctx context.Context, userID string, provider domain.Provider) (domain.ProviderCredential, bool, error) {
	var model CredentialModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ? AND provider = ?", userID, string(provider)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ProviderCredential{}, false, nil
		}
		return domain.ProviderCredential{}, false, err
	}
	return credentialFromModel(model), true, nil
}

// DeleteCredential removes the credential; deleting a missing one is not an error.
func (s *GormStore) DeleteCredential(ctx context.Context, userID string, provider domain.Provider) error {
	return s.db.WithContext(ctx).Delete(&CredentialModel{}, "user_id = ? AND provider = ?", userID, string(provider)).Error
}

// CreateConversation creates a conversation and any initial messages.
func (s *GormStore) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := ConversationModel{
			ID:        conv.ID,
			UserID:    conv.UserID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return createMessages(tx, conv.ID, conv.Messages)
	})
}

// GetConversation returns a conversation with its messages in order.
func (s *GormStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	db := s.db.WithContext(ctx)
	var model ConversationModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	var msgs []MessageModel
	if err := db.Where("conversation_id = ?", id).Order("position ASC, created_at ASC").Find(&msgs).Error; err != nil {
		return domain.Conversation{}, false, err
	}
	conv := conversationFromModel(model)
	conv.Messages = make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, messageFromModel(m))
	}
	return conv, true, nil
}

// ListConversationsByUser returns recent conversations without their messages.
func (s *GormStore) ListConversationsByUser(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(conversationLimit(limit)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// AppendConversationMessages records messages and touches updated_at.
func (s *GormStore) AppendConversationMessages(ctx context.Context, id string, msgs ...domain.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createMessages(tx, id, msgs); err != nil {
			return err
		}
		return tx.Model(&ConversationModel{}).Where("id = ?", id).Update("updated_at", nowUTC()).Error
	})
}

// DeleteConversation removes a conversation and its messages.
func (s *GormStore) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ConversationModel{}, "id = ?", id).Error
	})
}

func createMessages(tx *gorm.DB, conversationID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	// Position keeps append order when timestamps collide at column precision.
	var last sql.NullInt64
	if err := tx.Model(&MessageModel{}).Where("conversation_id = ?", conversationID).
		Select("MAX(position)").Scan(&last).Error; err != nil {
		return err
	}
	next := int64(0)
	if last.Valid {
		next = last.Int64 + 1
	}
	models := make([]MessageModel, 0, len(msgs))
	for i, msg := range msgs {
		model, err := messageToModel(conversationID, msg)
		if err != nil {
			return err
		}
		model.Position = next + int64(i)
		models = append(models, model)
	}
	return tx.Create(&models).Error
}

func formToModel(f domain.Form) (FormModel, error) {
	def, err := json.Marshal(f.Definition)
	if err != nil {
		return FormModel{}, fmt.Errorf("encode form definition: %w", err)
	}
	return FormModel{
		ID:              f.ID,
		UserID:          f.UserID,
		Title:           f.Title,
		Description:     f.Description,
		Definition:      def,
		ShareableLink:   f.ShareableLink,
		ShortLink:       f.ShortLink,
		Tool:            string(f.Tool),
		ExternalID:      f.ExternalID,
		EditLink:        f.EditLink,
		IsActive:        f.IsActive,
		SubmissionCount: f.SubmissionCount,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}, nil
}

func formFromModel(m FormModel) domain.Form {
	var def domain.FormDefinition
	if len(m.Definition) > 0 {
		_ = json.Unmarshal(m.Definition, &def)
	}
	return domain.Form{
		ID:              m.ID,
		UserID:          m.UserID,
		Title:           m.Title,
		Description:     m.Description,
		Definition:      def,
		ShareableLink:   m.ShareableLink,
		ShortLink:       m.ShortLink,
		Tool:            domain.Tool(m.Tool),
		ExternalID:      m.ExternalID,
		EditLink:        m.EditLink,
		IsActive:        m.IsActive,
		SubmissionCount: m.SubmissionCount,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func credentialToModel(c domain.ProviderCredential) CredentialModel {
	var expiresAt *time.Time
	if !c.ExpiresAt.IsZero() {
		value := c.ExpiresAt.UTC()
		expiresAt = &value
	}
	return CredentialModel{
		UserID:            c.UserID,
		Provider:          string(c.Provider),
		AccessCiphertext:  c.AccessToken.Ciphertext,
		AccessIV:          c.AccessToken.IV,
		AccessTag:         c.AccessToken.Tag,
		RefreshCiphertext: c.RefreshToken.Ciphertext,
		RefreshIV:         c.RefreshToken.IV,
		RefreshTag:        c.RefreshToken.Tag,
		TokenType:         c.TokenType,
		ExpiresAt:         expiresAt,
		Scope:             c.Scope,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func credentialFromModel(m CredentialModel) domain.ProviderCredential {
	cred := domain.ProviderCredential{
		UserID:       m.UserID,
		Provider:     domain.Provider(m.Provider),
		AccessToken:  domain.SealedValue{Ciphertext: m.AccessCiphertext, IV: m.AccessIV, Tag: m.AccessTag},
		RefreshToken: domain.SealedValue{Ciphertext: m.RefreshCiphertext, IV: m.RefreshIV, Tag: m.RefreshTag},
		TokenType:    m.TokenType,
		Scope:        m.Scope,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.ExpiresAt != nil {
		cred.ExpiresAt = *m.ExpiresAt
	}
	return cred
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(conversationID string, msg domain.Message) (MessageModel, error) {
	model := MessageModel{
		ID:             msg.ID,
		ConversationID: conversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.FormDefinition != nil {
		raw, err := json.Marshal(msg.FormDefinition)
		if err != nil {
			return MessageModel{}, fmt.Errorf("encode message form: %w", err)
		}
		model.FormDefinition = raw
	}
	return model, nil
}

func messageFromModel(m MessageModel) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if len(m.FormDefinition) > 0 && string(m.FormDefinition) != "null" {
		var def domain.FormDefinition
		if err := json.Unmarshal(m.FormDefinition, &def); err == nil {
			msg.FormDefinition = &def
		}
	}
	return msg
}
