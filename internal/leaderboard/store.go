package leaderboard

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store interface {
	// Save is idempotent per session id.
	Save(ctx context.Context, rec SessionRecord) error
	LastSequence(ctx context.Context) (int64, error)
	TopPlayers(ctx context.Context, limit int) ([]types.TopPlayer, error)
	RecentSessions(ctx context.Context, limit int) ([]types.SessionSummary, error)
	WinnersSince(ctx context.Context, since time.Time, limit int) ([]types.PeriodWinner, error)
	UserStats(ctx context.Context, userID string) (types.UserStats, error)
}

type GormStore struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the archive tables.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}, &ParticipantRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return NewGormStore(db), nil
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Save(ctx context.Context, rec SessionRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || len(rec.Participants) == 0 {
			return nil // already archived
		}
		return tx.Create(&rec.Participants).Error
	})
}

func (s *GormStore) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.WithContext(ctx).Model(&SessionRecord{}).Select("COALESCE(MAX(sequence_number), 0)").Scan(&seq).Error
	return seq, err
}

func (s *GormStore) TopPlayers(ctx context.Context, limit int) ([]types.TopPlayer, error) {
	out := []types.TopPlayer{}
	err := s.db.WithContext(ctx).Model(&ParticipantRecord{}).
		Select("user_id AS id, MAX(username) AS username, " +
			"SUM(CASE WHEN is_winner THEN 1 ELSE 0 END) AS wins, COUNT(*) AS total_games").
		Group("user_id").
		Order("wins DESC, total_games DESC, id").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (s *GormStore) RecentSessions(ctx context.Context, limit int) ([]types.SessionSummary, error) {
	var recs []SessionRecord
	err := s.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at, id") }).
		Order("sequence_number DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]types.SessionSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Summary())
	}
	return out, nil
}

func (s *GormStore) WinnersSince(ctx context.Context, since time.Time, limit int) ([]types.PeriodWinner, error) {
	out := []types.PeriodWinner{}
	err := s.db.WithContext(ctx).Table("participant_records AS p").
		Select("MAX(p.username) AS username, COUNT(*) AS wins").
		Joins("JOIN session_records s ON s.id = p.session_id").
		Where("p.is_winner AND s.completed_at >= ?", since).
		Group("p.user_id").
		Order("wins DESC, username").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (s *GormStore) UserStats(ctx context.Context, userID string) (types.UserStats, error) {
	var row struct {
		TotalGames int
		TotalWins  int
	}
	err := s.db.WithContext(ctx).Model(&ParticipantRecord{}).
		Select("COUNT(*) AS total_games, COALESCE(SUM(CASE WHEN is_winner THEN 1 ELSE 0 END), 0) AS total_wins").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return types.UserStats{}, err
	}
	return NewUserStats(row.TotalWins, row.TotalGames), nil
}

// MemoryStore keeps the archive in process. It backs the server when no
// database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	recs []SessionRecord // ascending sequence
	ids  map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]bool)}
}

func (m *MemoryStore) Save(ctx context.Context, rec SessionRecord) error {
	if rec.ID == "" {
		return errors.New("record without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ids[rec.ID] {
		return nil
	}
	m.ids[rec.ID] = true
	rec.Participants = slices.Clone(rec.Participants)
	idx, _ := slices.BinarySearchFunc(m.recs, rec.SequenceNumber, func(r SessionRecord, seq int64) int {
		return cmp.Compare(r.SequenceNumber, seq)
	})
	m.recs = slices.Insert(m.recs, idx, rec)
	return nil
}

func (m *MemoryStore) LastSequence(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.recs) == 0 {
		return 0, nil
	}
	return m.recs[len(m.recs)-1].SequenceNumber, nil
}

func (m *MemoryStore) TopPlayers(ctx context.Context, limit int) ([]types.TopPlayer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byUser := map[string]*types.TopPlayer{}
	for _, r := range m.recs {
		for _, p := range r.Participants {
			tp, ok := byUser[p.UserID]
			if !ok {
				tp = &types.TopPlayer{ID: p.UserID}
				byUser[p.UserID] = tp
			}
			tp.Username = p.Username
			tp.TotalGames++
			if p.IsWinner {
				tp.Wins++
			}
		}
	}

	out := make([]types.TopPlayer, 0, len(byUser))
	for _, tp := range byUser {
		out = append(out, *tp)
	}
	slices.SortFunc(out, func(a, b types.TopPlayer) int {
		return cmp.Or(cmp.Compare(b.Wins, a.Wins), cmp.Compare(b.TotalGames, a.TotalGames), cmp.Compare(a.ID, b.ID))
	})
	return truncate(out, limit), nil
}

func (m *MemoryStore) RecentSessions(ctx context.Context, limit int) ([]types.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.SessionSummary, 0, len(m.recs))
	for i := len(m.recs) - 1; i >= 0; i-- {
		out = append(out, m.recs[i].Summary())
	}
	return truncate(out, limit), nil
}

func (m *MemoryStore) WinnersSince(ctx context.Context, since time.Time, limit int) ([]types.PeriodWinner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wins := map[string]*types.PeriodWinner{}
	for _, r := range m.recs {
		if r.CompletedAt.Before(since) {
			continue
		}
		for _, p := range r.Participants {
			if !p.IsWinner {
				continue
			}
			w, ok := wins[p.UserID]
			if !ok {
				w = &types.PeriodWinner{}
				wins[p.UserID] = w
			}
			w.Username = p.Username
			w.Wins++
		}
	}

	out := make([]types.PeriodWinner, 0, len(wins))
	for _, w := range wins {
		out = append(out, *w)
	}
	slices.SortFunc(out, func(a, b types.PeriodWinner) int {
		return cmp.Or(cmp.Compare(b.Wins, a.Wins), cmp.Compare(a.Username, b.Username))
	})
	return truncate(out, limit), nil
}

func (m *MemoryStore) UserStats(ctx context.Context, userID string) (types.UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var wins, games int
	for _, r := range m.recs {
		for _, p := range r.Participants {
			if p.UserID != userID {
				continue
			}
			games++
			if p.IsWinner {
				wins++
			}
		}
	}
	return NewUserStats(wins, games), nil
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
