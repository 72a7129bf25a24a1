package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/arena/internal/domain/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gameRecord struct {
	GameID        string              `gorm:"primaryKey;column:game_id"`
	ClientID      string              `gorm:"index:idx_games_client_created,priority:1;not null"`
	Title         string              `gorm:"type:text"`
	CreatedBy     string              `gorm:"index"`
	Teams         []string            `gorm:"type:jsonb;serializer:json"`
	Profiles      []model.Participant `gorm:"type:jsonb;serializer:json"`
	KPIID         string              `gorm:"column:kpi_id"`
	KPIName       string              `gorm:"column:kpi_name"`
	Flip          bool
	Schedule      string `gorm:"type:varchar(16)"`
	StartDate     time.Time
	EndDate       time.Time
	IsDuel        bool `gorm:"index"`
	IsAccepted    bool
	IsDeclined    bool
	IsComplete    bool `gorm:"index"`
	IsArchived    bool `gorm:"index"`
	WinnerProfile *model.Participant `gorm:"type:jsonb;serializer:json"`
	CreatedAt     time.Time          `gorm:"index:idx_games_client_created,priority:2,sort:desc"`
	UpdatedAt     time.Time
}

func (gameRecord) TableName() string { return "games" }

type identityRecord struct {
	EntityID  string `gorm:"primaryKey"`
	FirstName string
	LastName  string
	GroupID   string `gorm:"index"`
}

func (identityRecord) TableName() string { return "identities" }

func toRecord(g model.Game) gameRecord {
	return gameRecord{
		GameID:        g.GameID,
		ClientID:      g.ClientID,
		Title:         g.Title,
		CreatedBy:     g.CreatedBy,
		Teams:         g.Teams,
		Profiles:      g.Profiles,
		KPIID:         g.KPIID,
		KPIName:       g.KPIName,
		Flip:          g.Flip,
		Schedule:      string(g.Schedule),
		StartDate:     g.StartDate,
		EndDate:       g.EndDate,
		IsDuel:        g.IsDuel,
		IsAccepted:    g.IsAccepted,
		IsDeclined:    g.IsDeclined,
		IsComplete:    g.IsComplete,
		IsArchived:    g.IsArchived,
		WinnerProfile: g.WinnerProfile,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}

func (r gameRecord) game() model.Game {
	return model.Game{
		GameID:        r.GameID,
		ClientID:      r.ClientID,
		Title:         r.Title,
		CreatedBy:     r.CreatedBy,
		Teams:         r.Teams,
		Profiles:      r.Profiles,
		KPIID:         r.KPIID,
		KPIName:       r.KPIName,
		Flip:          r.Flip,
		Schedule:      model.Recurrence(r.Schedule),
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		IsDuel:        r.IsDuel,
		IsAccepted:    r.IsAccepted,
		IsDeclined:    r.IsDeclined,
		IsComplete:    r.IsComplete,
		IsArchived:    r.IsArchived,
		WinnerProfile: r.WinnerProfile,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// GormStore is a Store and roster Directory backed by PostgreSQL.
type GormStore struct {
	db   *gorm.DB
	opts options
}

// OpenPostgres connects to dsn and returns a migrated GormStore.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := NewGormStore(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	return &GormStore{db: db, opts: buildOptions(opts)}
}

// Migrate creates or updates the games and identities tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&gameRecord{}, &identityRecord{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("close postgres: %w", err)
	}
	return sqlDB.Close()
}

// Get returns ErrNotFound when the game is absent.
func (s *GormStore) Get(ctx context.Context, id string) (model.Game, error) {
	defer observe("get", time.Now())
	var rec gameRecord
	err := s.db.WithContext(ctx).Where("game_id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Game{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Game{}, fmt.Errorf("get game %s: %w", id, err)
	}
	return rec.game(), nil
}

// Put inserts or replaces g. The change is emitted after commit.
func (s *GormStore) Put(ctx context.Context, g model.Game) error {
	defer observe("put", time.Now())
	if err := g.Validate(); err != nil {
		return err
	}
	var (
		old     gameRecord
		existed bool
	)
	rec := toRecord(g)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("game_id = ?", g.GameID).Take(&old).Error
		switch {
		case err == nil:
			existed = true
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("put game %s: %w", g.GameID, err)
	}

	next := rec.game()
	if existed {
		prev := old.game()
		s.opts.emit(ctx, model.ChangeModify, &prev, &next)
	} else {
		s.opts.emit(ctx, model.ChangeInsert, nil, &next)
	}
	return nil
}

// Update applies patch under a row lock and emits MODIFY.
func (s *GormStore) Update(ctx context.Context, id string, patch Patch) (model.Game, error) {
	defer observe("update", time.Now())
	var old, cur gameRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("game_id = ?", id).Take(&old).Error
		if err != nil {
			return err
		}
		g := old.game().Clone()
		patch.Apply(&g)
		g.UpdatedAt = s.opts.now()
		cur = toRecord(g)
		return tx.Save(&cur).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Game{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Game{}, fmt.Errorf("update game %s: %w", id, err)
	}

	prev, next := old.game(), cur.game()
	s.opts.emit(ctx, model.ChangeModify, &prev, &next)
	return cur.game(), nil
}

// Delete hard-deletes the row and emits REMOVE when one existed.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	defer observe("delete", time.Now())
	var old gameRecord
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.Returning{}).Where("game_id = ?", id).Delete(&old)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete game %s: %w", id, err)
	}
	if deleted {
		prev := old.game()
		s.opts.emit(ctx, model.ChangeRemove, &prev, nil)
	}
	return nil
}

func (s *GormStore) listing(ctx context.Context, q Query) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&gameRecord{}).Where("client_id = ?", q.ClientID)
	if q.Duel != nil {
		tx = tx.Where("is_duel = ?", *q.Duel)
	}
	switch q.Status {
	case StatusActive:
		tx = tx.Where("is_complete = ?", false)
	case StatusComplete:
		tx = tx.Where("is_complete = ? AND winner_profile IS NOT NULL", true)
	case StatusDraw:
		tx = tx.Where("is_complete = ? AND winner_profile IS NULL", true)
	}
	return tx.Order("created_at DESC").Order("game_id DESC")
}

// Query lists a client's games newest first.
func (s *GormStore) Query(ctx context.Context, q Query) (Page, error) {
	defer observe("query", time.Now())
	if q.ClientID == "" {
		return Page{}, ErrNoClient
	}
	offset, limit, err := pageBounds(q)
	if err != nil {
		return Page{}, err
	}

	var recs []gameRecord
	if err := s.listing(ctx, q).Offset(offset).Limit(limit + 1).Find(&recs).Error; err != nil {
		return Page{}, fmt.Errorf("query games: %w", err)
	}
	page := Page{NextPageToken: nextToken(offset, limit, len(recs)), Items: make([]model.Game, 0, len(recs))}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	for _, r := range recs {
		page.Items = append(page.Items, r.game())
	}
	return page, nil
}

func (s *GormStore) unarchived(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&gameRecord{}).Where("is_archived = ?", false).Order("game_id")
}

// Unarchived pages through the games not archived yet, by game id.
func (s *GormStore) Unarchived(ctx context.Context, pageToken string, limit int) (Page, error) {
	defer observe("unarchived", time.Now())
	offset, limit, err := pageBounds(Query{PageToken: pageToken, Limit: limit})
	if err != nil {
		return Page{}, err
	}

	var recs []gameRecord
	if err := s.unarchived(ctx).Offset(offset).Limit(limit + 1).Find(&recs).Error; err != nil {
		return Page{}, fmt.Errorf("list unarchived games: %w", err)
	}
	page := Page{NextPageToken: nextToken(offset, limit, len(recs)), Items: make([]model.Game, 0, len(recs))}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	for _, r := range recs {
		page.Items = append(page.Items, r.game())
	}
	return page, nil
}

// BatchGet returns the games among ids that exist.
func (s *GormStore) BatchGet(ctx context.Context, ids []string) ([]model.Game, error) {
	defer observe("batch_get", time.Now())
	if len(ids) == 0 {
		return []model.Game{}, nil
	}
	var recs []gameRecord
	if err := s.db.WithContext(ctx).Where("game_id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("batch get games: %w", err)
	}
	out := make([]model.Game, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.game())
	}
	return out, nil
}

// PutIdentity upserts a user for roster lookups.
func (s *GormStore) PutIdentity(ctx context.Context, id model.Identity) error {
	rec := identityRecord{EntityID: id.EntityID, FirstName: id.FirstName, LastName: id.LastName, GroupID: id.GroupID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("put identity %s: %w", id.EntityID, err)
	}
	return nil
}

// GetByIDs returns the known identities among ids.
func (s *GormStore) GetByIDs(ctx context.Context, ids []string) ([]model.Identity, error) {
	defer observe("get_identities", time.Now())
	if len(ids) == 0 {
		return []model.Identity{}, nil
	}
	var recs []identityRecord
	if err := s.db.WithContext(ctx).Where("entity_id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("get identities: %w", err)
	}
	out := make([]model.Identity, 0, len(recs))
	for _, r := range recs {
		out = append(out, model.Identity{EntityID: r.EntityID, FirstName: r.FirstName, LastName: r.LastName, GroupID: r.GroupID})
	}
	return out, nil
}
