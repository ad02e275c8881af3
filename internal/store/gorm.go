package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hallwaylabs/huddle/internal/domain"
)

// GormStore is the postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGorm(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Meeting{},
		&domain.Participant{},
		&domain.Notification{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("module", "store").Msg("postgres store ready")
	return &GormStore{db: db}, nil
}

func (s *GormStore) UserByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}

func (s *GormStore) ActiveUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	err := s.db.WithContext(ctx).Where("active = ?", true).Find(&users).Error
	return users, err
}

func (s *GormStore) ActiveUsersByRole(ctx context.Context, roles []domain.Role) ([]*domain.User, error) {
	var users []*domain.User
	err := s.db.WithContext(ctx).Where("active = ? AND role IN ?", true, roles).Find(&users).Error
	return users, err
}

func (s *GormStore) CreateMeeting(ctx context.Context, m *domain.Meeting, participants []*domain.Participant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		for _, p := range participants {
			p.MeetingID = m.ID
		}
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) MeetingByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	var m domain.Meeting
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &m, nil
}

func (s *GormStore) MeetingByRoomToken(ctx context.Context, token string) (*domain.Meeting, error) {
	var m domain.Meeting
	if err := s.db.WithContext(ctx).First(&m, "room_token = ?", token).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &m, nil
}

func (s *GormStore) UpdateMeeting(ctx context.Context, m *domain.Meeting) error {
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *GormStore) DeleteMeeting(ctx context.Context, id domain.MeetingID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.Participant{}, "meeting_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Meeting{}, "id = ?", id).Error
	})
}

func (s *GormStore) ListMeetings(ctx context.Context) ([]*domain.Meeting, error) {
	var out []*domain.Meeting
	err := s.db.WithContext(ctx).Order("scheduled_at DESC").Find(&out).Error
	return out, err
}

func (s *GormStore) MeetingsForUser(ctx context.Context, uid domain.UserID) ([]*domain.Meeting, error) {
	var out []*domain.Meeting
	err := s.db.WithContext(ctx).
		Joins("JOIN participants ON participants.meeting_id = meetings.id").
		Where("participants.user_id = ?", uid).
		Order("meetings.scheduled_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) MeetingsScheduledBetween(ctx context.Context, from, to time.Time) ([]*domain.Meeting, error) {
	var out []*domain.Meeting
	err := s.db.WithContext(ctx).
		Where("scheduled_at BETWEEN ? AND ? AND status = ?", from, to, domain.MeetingScheduled).
		Find(&out).Error
	return out, err
}

func (s *GormStore) Stats(ctx context.Context, now time.Time) (*MeetingStats, error) {
	var st MeetingStats
	db := s.db.WithContext(ctx)
	if err := db.Model(&domain.Meeting{}).Count(&st.TotalMeetings).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Meeting{}).Where("scheduled_at > ?", now).Count(&st.UpcomingMeetings).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Meeting{}).Where("status = ?", domain.MeetingCompleted).Count(&st.CompletedMeetings).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Participant{}).Count(&st.TotalParticipants).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Participant{}).Where("attendance_status = ?", domain.AttendanceJoined).Count(&st.JoinedParticipants).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *GormStore) Participant(ctx context.Context, meetingID domain.MeetingID, uid domain.UserID) (*domain.Participant, error) {
	if uid == "" {
		return nil, ErrNotFound
	}
	var p domain.Participant
	err := s.db.WithContext(ctx).First(&p, "meeting_id = ? AND user_id = ?", meetingID, uid).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &p, nil
}

func (s *GormStore) Participants(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	var out []*domain.Participant
	err := s.db.WithContext(ctx).Where("meeting_id = ?", meetingID).Find(&out).Error
	return out, err
}

// EnrollModerator is upsert-or-ignore on the (meeting, identity) unique
// index, so concurrent privileged connects cannot double-insert.
func (s *GormStore) EnrollModerator(ctx context.Context, meetingID domain.MeetingID, ident domain.Identity, at time.Time) (*domain.Participant, error) {
	p := &domain.Participant{
		MeetingID:        meetingID,
		UserID:           ident.ID,
		IsModerator:      true,
		CanShareScreen:   true,
		CanChat:          true,
		AttendanceStatus: domain.AttendanceJoined,
		JoinedAt:         &at,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "meeting_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(p).Error
	if err != nil {
		return nil, err
	}
	// The insert may have been a no-op; read back the surviving row.
	return s.Participant(ctx, meetingID, ident.ID)
}

func (s *GormStore) MarkJoined(ctx context.Context, participantID int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("id = ?", participantID).
		Updates(map[string]any{
			"attendance_status": domain.AttendanceJoined,
			"joined_at":         at,
		}).Error
}

func (s *GormStore) MarkLeft(ctx context.Context, participantID int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("id = ?", participantID).
		Updates(map[string]any{
			"attendance_status": domain.AttendanceLeft,
			"left_at":           at,
		}).Error
}

func (s *GormStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *GormStore) CountNotificationsTitledSince(ctx context.Context, titlePrefix string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("title LIKE ? AND created_at > ?", titlePrefix+"%", since).
		Count(&n).Error
	return n, err
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
