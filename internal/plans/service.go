/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package plans persists viewing plans and tracks progress through them.
package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/playplan/internal/cache"
	"github.com/friendsincode/playplan/internal/events"
	"github.com/friendsincode/playplan/internal/models"
	"github.com/friendsincode/playplan/internal/planner"
	"github.com/friendsincode/playplan/internal/playlist"
	"github.com/friendsincode/playplan/internal/storage"
	"github.com/friendsincode/playplan/internal/telemetry"
)

var (
	// ErrNotFound indicates the plan or day does not exist.
	ErrNotFound = errors.New("plan not found")
	// ErrNothingToSchedule indicates the schedule came out empty.
	ErrNothingToSchedule = errors.New("nothing to schedule")
	// ErrTooManyPeriods indicates the schedule exceeds the configured day limit.
	ErrTooManyPeriods = errors.New("schedule exceeds maximum number of days")
	// ErrNoSource indicates neither items nor a playlist were given.
	ErrNoSource = errors.New("items or playlist_url required")
)

// Rows per INSERT; keeps segment batches under sqlite's bind variable limit.
const createBatchSize = 200

// Config tunes the service.
type Config struct {
	DefaultCapacityMinutes float64
	MaxPeriods             int
}

// Service owns plan persistence.
type Service struct {
	db      *gorm.DB
	source  playlist.Source
	cache   cache.Store
	archive storage.ObjectStore
	bus     *events.Bus
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService creates a plan service. source, archive and bus may be nil.
func NewService(db *gorm.DB, source playlist.Source, store cache.Store, archive storage.ObjectStore, bus *events.Bus, cfg Config, logger zerolog.Logger) *Service {
	if cfg.DefaultCapacityMinutes <= 0 {
		cfg.DefaultCapacityMinutes = 60
	}
	if cfg.MaxPeriods <= 0 {
		cfg.MaxPeriods = 3660
	}
	if store == nil {
		store = cache.NewMemory(cache.Config{}, nil, nil)
	}
	return &Service{
		db:      db,
		source:  source,
		cache:   store,
		archive: archive,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With().Str("component", "plans").Logger(),
		now:     time.Now,
	}
}

// DefaultCapacity is used when a request leaves capacity unset.
func (s *Service) DefaultCapacity() float64 {
	return s.cfg.DefaultCapacityMinutes
}

// Schedule runs the scheduler with the service limits and records metrics.
func (s *Service) Schedule(items []planner.Item, capacityMinutes float64) ([]planner.Period, error) {
	periods, err := planner.ScheduleLimit(items, capacityMinutes, s.cfg.MaxPeriods)
	if errors.Is(err, planner.ErrPeriodLimit) {
		telemetry.ScheduleRunsTotal.WithLabelValues("too_many").Inc()
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyPeriods, s.cfg.MaxPeriods)
	}
	if err != nil {
		telemetry.ScheduleRunsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if len(periods) == 0 {
		telemetry.ScheduleRunsTotal.WithLabelValues("empty").Inc()
		return periods, nil
	}
	telemetry.ScheduleRunsTotal.WithLabelValues("ok").Inc()
	telemetry.SchedulePeriods.Observe(float64(len(periods)))
	return periods, nil
}

// CreateRequest describes a new plan. Items take precedence over PlaylistURL.
type CreateRequest struct {
	Name            string
	PlaylistURL     string
	Items           []planner.Item
	CapacityMinutes float64
}

// Create schedules and stores a new plan.
func (s *Service) Create(ctx context.Context, req CreateRequest) (plan *models.Plan, err error) {
	ctx, span := telemetry.StartSpan(ctx, "plans.Create")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	capacity := req.CapacityMinutes
	if capacity == 0 {
		capacity = s.cfg.DefaultCapacityMinutes
	}

	plan = &models.Plan{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(req.Name),
		SourceURL:       strings.TrimSpace(req.PlaylistURL),
		CapacityMinutes: capacity,
	}

	items := req.Items
	if len(items) == 0 {
		if plan.SourceURL == "" {
			return nil, ErrNoSource
		}
		pl, err := s.resolvePlaylist(ctx, plan.SourceURL)
		if err != nil {
			return nil, err
		}
		items = pl.Items()
		plan.PlaylistID = pl.ID
		if plan.Name == "" {
			plan.Name = pl.Title
		}
	}
	if plan.Name == "" {
		plan.Name = "Untitled plan"
	}

	periods, err := s.Schedule(items, capacity)
	if err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		return nil, ErrNothingToSchedule
	}

	plan.TotalMinutes = planner.TotalMinutes(periods)
	plan.ItemCount = len(items)
	plan.Days = FromPeriods(plan.ID, periods)
	span.SetAttributes(
		telemetry.PlanIDKey.String(plan.ID),
		telemetry.PlaylistIDKey.String(plan.PlaylistID),
		telemetry.CapacityMinutesKey.Float64(capacity),
		telemetry.ItemCountKey.Int(plan.ItemCount),
		telemetry.DayCountKey.Int(len(plan.Days)),
	)

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Session(&gorm.Session{CreateBatchSize: createBatchSize}).Create(plan).Error
	}); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}

	s.logger.Info().
		Str("plan_id", plan.ID).
		Str("playlist_id", plan.PlaylistID).
		Int("days", len(plan.Days)).
		Float64("capacity_minutes", capacity).
		Msg("plan created")

	s.afterWrite(ctx, plan)
	s.publish(events.EventPlanCreated, events.Payload{
		"plan_id":     plan.ID,
		"playlist_id": plan.PlaylistID,
		"days":        len(plan.Days),
	})
	return plan, nil
}

func (s *Service) resolvePlaylist(ctx context.Context, raw string) (*playlist.Playlist, error) {
	if s.source == nil {
		return nil, ErrNoSource
	}
	id, err := playlist.ParsePlaylistURL(raw)
	if err != nil {
		return nil, err
	}
	return s.source.FetchPlaylist(ctx, id)
}

// Get loads a plan with its days and segments in order.
func (s *Service) Get(ctx context.Context, planID string) (*models.Plan, error) {
	if data, ok := s.cache.GetPlan(ctx, planID); ok {
		var plan models.Plan
		if err := json.Unmarshal(data, &plan); err == nil {
			return &plan, nil
		}
	}

	plan, err := s.load(s.db.WithContext(ctx), planID)
	if err != nil {
		return nil, err
	}
	s.cachePlan(ctx, plan)
	return plan, nil
}

func (s *Service) load(tx *gorm.DB, planID string) (*models.Plan, error) {
	var plan models.Plan
	err := tx.
		Preload("Days", func(db *gorm.DB) *gorm.DB { return db.Order("day_index ASC") }).
		Preload("Days.Segments", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&plan, "id = ?", planID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	return &plan, nil
}

// List returns plan headers, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]models.Plan, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Plan{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count plans: %w", err)
	}

	var out []models.Plan
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list plans: %w", err)
	}
	return out, total, nil
}

// Delete removes a plan and everything under it.
func (s *Service) Delete(ctx context.Context, planID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteDays(tx, planID); err != nil {
			return err
		}
		res := tx.Delete(&models.Plan{}, "id = ?", planID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete plan: %w", err)
	}

	s.invalidate(ctx, planID)
	if s.archive != nil {
		if err := s.archive.Delete(ctx, storage.PlanSnapshotKey(planID)); err != nil {
			s.logger.Warn().Err(err).Str("plan_id", planID).Msg("failed to delete plan snapshot")
		}
	}
	s.logger.Info().Str("plan_id", planID).Msg("plan deleted")
	s.publish(events.EventPlanDeleted, events.Payload{"plan_id": planID})
	return nil
}

func deleteDays(tx *gorm.DB, planID string) error {
	dayIDs := tx.Model(&models.PlanDay{}).Select("id").Where("plan_id = ?", planID)
	if err := tx.Where("plan_day_id IN (?)", dayIDs).Delete(&models.PlanSegment{}).Error; err != nil {
		return err
	}
	return tx.Where("plan_id = ?", planID).Delete(&models.PlanDay{}).Error
}

// Replan reschedules the same items with a new capacity. Minutes already
// covered by the leading run of completed days stay completed.
func (s *Service) Replan(ctx context.Context, planID string, capacityMinutes float64) (plan *models.Plan, err error) {
	ctx, span := telemetry.StartSpan(ctx, "plans.Replan",
		telemetry.PlanIDKey.String(planID),
		telemetry.CapacityMinutesKey.Float64(capacityMinutes),
	)
	defer func() {
		if plan != nil {
			span.SetAttributes(telemetry.DayCountKey.Int(len(plan.Days)))
		}
		telemetry.RecordError(span, err)
		span.End()
	}()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(tx, planID)
		if err != nil {
			return err
		}

		old := ToPeriods(current.Days)
		periods, err := s.Schedule(ItemsFromPeriods(old), capacityMinutes)
		if err != nil {
			return err
		}
		if len(periods) == 0 {
			return ErrNothingToSchedule
		}
		carryProgress(periods, watchedPrefix(old))

		if err := deleteDays(tx, planID); err != nil {
			return err
		}
		days := FromPeriods(planID, periods)
		now := s.now().UTC()
		for i := range days {
			if days[i].Completed {
				days[i].CompletedAt = &now
			}
		}
		if err := tx.Session(&gorm.Session{CreateBatchSize: createBatchSize}).Create(&days).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Plan{}).Where("id = ?", planID).Updates(map[string]any{
			"capacity_minutes": capacityMinutes,
			"total_minutes":    planner.TotalMinutes(periods),
			"updated_at":       now,
		}).Error; err != nil {
			return err
		}

		current.CapacityMinutes = capacityMinutes
		current.TotalMinutes = planner.TotalMinutes(periods)
		current.UpdatedAt = now
		current.Days = days
		plan = current
		return nil
	})
	if err != nil {
		var invalid *planner.InvalidInputError
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNothingToSchedule) ||
			errors.Is(err, ErrTooManyPeriods) || errors.As(err, &invalid) {
			return nil, err
		}
		return nil, fmt.Errorf("replan: %w", err)
	}

	s.logger.Info().Str("plan_id", planID).Float64("capacity_minutes", capacityMinutes).Int("days", len(plan.Days)).Msg("plan replanned")
	s.invalidate(ctx, planID)
	s.afterWrite(ctx, plan)
	s.publish(events.EventPlanReplanned, events.Payload{
		"plan_id":          planID,
		"capacity_minutes": capacityMinutes,
		"days":             len(plan.Days),
	})
	return plan, nil
}

// SetDayCompleted marks a single day watched or unwatched.
func (s *Service) SetDayCompleted(ctx context.Context, planID string, index int, completed bool) (*models.PlanDay, error) {
	now := s.now().UTC()
	updates := map[string]any{"completed": completed, "completed_at": nil, "updated_at": now}
	if completed {
		updates["completed_at"] = now
	}

	res := s.db.WithContext(ctx).Model(&models.PlanDay{}).
		Where("plan_id = ? AND day_index = ?", planID, index).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update day: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var day models.PlanDay
	if err := s.db.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&day, "plan_id = ? AND day_index = ?", planID, index).Error; err != nil {
		return nil, fmt.Errorf("reload day: %w", err)
	}

	s.invalidate(ctx, planID)
	s.publish(events.EventPlanDayCompleted, events.Payload{
		"plan_id":   planID,
		"index":     index,
		"completed": completed,
	})
	return &day, nil
}

// Progress summarises how far through a plan the viewer is.
type Progress struct {
	PlanID           string  `json:"plan_id"`
	TotalDays        int     `json:"total_days"`
	CompletedDays    int     `json:"completed_days"`
	TotalMinutes     float64 `json:"total_minutes"`
	WatchedMinutes   float64 `json:"watched_minutes"`
	RemainingMinutes float64 `json:"remaining_minutes"`
	Percent          float64 `json:"percent"`
	NextDay          *int    `json:"next_day,omitempty"`
}

// Progress computes watched and remaining minutes for a plan.
func (s *Service) Progress(ctx context.Context, planID string) (*Progress, error) {
	plan, err := s.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	return computeProgress(plan), nil
}

// computeProgress derives the summary from a loaded plan.
func computeProgress(plan *models.Plan) *Progress {
	p := &Progress{PlanID: plan.ID, TotalDays: len(plan.Days)}
	for _, period := range ToPeriods(plan.Days) {
		minutes := period.TotalMinutes()
		p.TotalMinutes += minutes
		if period.Completed {
			p.CompletedDays++
			p.WatchedMinutes += minutes
			continue
		}
		if p.NextDay == nil {
			idx := period.Index
			p.NextDay = &idx
		}
	}
	p.RemainingMinutes = math.Max(0, p.TotalMinutes-p.WatchedMinutes)
	if p.TotalMinutes > 0 {
		p.Percent = math.Round(p.WatchedMinutes/p.TotalMinutes*1000) / 10
	}
	return p
}

func (s *Service) afterWrite(ctx context.Context, plan *models.Plan) {
	s.cachePlan(ctx, plan)
	if s.archive == nil {
		return
	}
	data, err := json.Marshal(NewView(plan))
	if err != nil {
		return
	}
	if err := s.archive.Put(ctx, storage.PlanSnapshotKey(plan.ID), data); err != nil {
		s.logger.Warn().Err(err).Str("plan_id", plan.ID).Msg("failed to archive plan snapshot")
	}
}

func (s *Service) cachePlan(ctx context.Context, plan *models.Plan) {
	data, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := s.cache.SetPlan(ctx, plan.ID, data); err != nil {
		s.logger.Debug().Err(err).Str("plan_id", plan.ID).Msg("failed to cache plan")
	}
}

func (s *Service) invalidate(ctx context.Context, planID string) {
	if err := s.cache.InvalidatePlan(ctx, planID); err != nil {
		s.logger.Debug().Err(err).Str("plan_id", planID).Msg("failed to invalidate plan cache")
	}
}

func (s *Service) publish(eventType events.EventType, payload events.Payload) {
	if s.bus != nil {
		s.bus.Publish(eventType, payload)
	}
}
