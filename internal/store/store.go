package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/familienverein/meistereder/internal/models"
	"github.com/familienverein/meistereder/internal/services"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrAlreadyRegistered = errors.New("store: registration already has a first version")
)

// Store persists conversations and their versioned registration snapshots.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

func New(db *gorm.DB, log zerolog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("store: nil database")
	}
	s := &Store{db: db, log: log, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&conversationRow{}, &registrationVersionRow{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	// Composite index that GORM doesn't derive from struct tags.
	if err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_conv_open ON conversations(completed, loop_escalated, last_activity)").Error; err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Load returns the conversation for identity, or nil when none exists yet.
func (s *Store) Load(ctx context.Context, identity string) (*models.Conversation, error) {
	key := services.NormalizeIdentity(identity)
	var row conversationRow
	err := s.db.WithContext(ctx).Where("conversation_id = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return DecodeConversation(row.Document)
}

// DecodeConversation tolerates documents written before newer keys existed.
func DecodeConversation(doc []byte) (*models.Conversation, error) {
	var conv models.Conversation
	if err := json.Unmarshal(doc, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	conv.FillDefaults()
	return &conv, nil
}

// Save overwrites the stored conversation.
func (s *Store) Save(ctx context.Context, conv *models.Conversation) error {
	conv.ConversationID = services.NormalizeIdentity(conv.ConversationID)
	doc, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	row := conversationRow{
		ConversationID: conv.ConversationID,
		Channel:        string(conv.Channel),
		Completed:      conv.Completed,
		LoopEscalated:  conv.LoopEscalated,
		LastActivity:   conv.LastActivity,
		Document:       datatypes.JSON(doc),
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      s.now(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel", "completed", "loop_escalated", "last_activity", "document", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// SaveRegistration stores version 1 of the conversation's current registration.
func (s *Store) SaveRegistration(ctx context.Context, conv *models.Conversation) (string, int, error) {
	return s.appendVersion(ctx, conv, nil, true)
}

// SaveRegistrationVersion appends the next version carrying the change summary.
func (s *Store) SaveRegistrationVersion(ctx context.Context, conv *models.Conversation, changes map[string]models.Change) (string, int, error) {
	return s.appendVersion(ctx, conv, changes, false)
}

func (s *Store) appendVersion(ctx context.Context, conv *models.Conversation, changes map[string]models.Change, first bool) (string, int, error) {
	key := conv.RegistrationKey()
	var version int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&registrationVersionRow{}).
			Where("registration_key = ?", key).
			Count(&count).Error; err != nil {
			return err
		}
		if first && count > 0 {
			return ErrAlreadyRegistered
		}
		version = int(count) + 1

		submitted := s.now().UTC()
		snap := models.Snapshot{
			Registration: conv.Registration.Clone(),
			Metadata: models.SnapshotMetadata{
				RegistrationID: key,
				Version:        version,
				SubmittedAt:    submitted,
				Channel:        string(conv.Channel),
				ParentEmail:    conv.ParentEmail,
				ConversationID: conv.ConversationID,
			},
		}
		if version > 1 {
			snap.Metadata.ChangeSummary = changes
		}
		doc, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return tx.Create(&registrationVersionRow{
			RegistrationKey: key,
			Version:         version,
			ConversationID:  conv.ConversationID,
			Channel:         string(conv.Channel),
			SubmittedAt:     submitted,
			Document:        datatypes.JSON(doc),
		}).Error
	})
	if err != nil {
		return key, 0, fmt.Errorf("save registration %s: %w", key, err)
	}
	s.log.Info().Str("registration", key).Int("version", version).Msg("registration version saved")
	return key, version, nil
}

// GetCurrentRegistration returns the highest stored version, or nil.
func (s *Store) GetCurrentRegistration(ctx context.Context, key string) (*models.Snapshot, error) {
	var row registrationVersionRow
	err := s.db.WithContext(ctx).
		Where("registration_key = ?", registrationKey(key)).
		Order("version DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current registration: %w", err)
	}
	snap, err := decodeSnapshot(row)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetRegistrationHistory returns every version, oldest first.
func (s *Store) GetRegistrationHistory(ctx context.Context, key string) ([]models.Snapshot, error) {
	var rows []registrationVersionRow
	if err := s.db.WithContext(ctx).
		Where("registration_key = ?", registrationKey(key)).
		Order("version ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("registration history: %w", err)
	}
	out := make([]models.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := decodeSnapshot(row)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// ListRegistrations returns the current snapshot of every registration.
func (s *Store) ListRegistrations(ctx context.Context) ([]models.Snapshot, error) {
	tx := s.db.WithContext(ctx)
	latest := tx.Model(&registrationVersionRow{}).
		Select("registration_key, MAX(version) AS version").
		Group("registration_key")

	var rows []registrationVersionRow
	if err := tx.Table("registration_versions AS rv").
		Select("rv.*").
		Joins("JOIN (?) AS latest ON latest.registration_key = rv.registration_key AND latest.version = rv.version", latest).
		Order("rv.submitted_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	out := make([]models.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := decodeSnapshot(row)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// ListIncomplete returns open conversations idle since before cutoff.
// Escalated conversations are never included.
func (s *Store) ListIncomplete(ctx context.Context, cutoff time.Time) ([]*models.Conversation, error) {
	var rows []conversationRow
	if err := s.db.WithContext(ctx).
		Where("completed = ? AND loop_escalated = ? AND last_activity < ?", false, false, cutoff).
		Order("last_activity ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list incomplete: %w", err)
	}
	out := make([]*models.Conversation, 0, len(rows))
	for _, row := range rows {
		conv, err := DecodeConversation(row.Document)
		if err != nil {
			s.log.Warn().Err(err).Str("conversation", row.ConversationID).Msg("skipping undecodable conversation")
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

func decodeSnapshot(row registrationVersionRow) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(row.Document, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot %s v%d: %w", row.RegistrationKey, row.Version, err)
	}
	return snap, nil
}

// registrationKey normalizes the conversation part of a registration key.
func registrationKey(key string) string {
	return services.NormalizeIdentity(key)
}
