// Package store 基于 GORM 持久化预订请求状态与补偿审计日志。
//
// Store 同时实现 compensation.StatusStore 与 compensation.AuditLog：
//
//	st := store.New(database, store.WithLogger(logger))
//	coord, _ := compensation.New(compensation.Services{Store: st, Audit: st})
package store

import (
	"context"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/compensation"
	"github.com/ceyewan/tripguard/db"
	"github.com/ceyewan/tripguard/xerrors"
)

const defaultListLimit = 100

// Store 预订与补偿存储
type Store struct {
	db     db.DB
	logger clog.Logger
	clock  clock.Clock
}

var (
	_ compensation.StatusStore = (*Store)(nil)
	_ compensation.AuditLog    = (*Store)(nil)
)

// Option 存储选项
type Option func(*Store)

// WithLogger 设置 Logger
func WithLogger(logger clog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.WithNamespace("store")
		}
	}
}

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = clock.OrReal(c)
	}
}

// New 创建存储
func New(database db.DB, opts ...Option) *Store {
	s := &Store{db: database, logger: clog.Discard(), clock: clock.Real()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate 迁移 booking_requests 与 compensation_logs
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.Migrate(ctx, &BookingRequest{}, &CompensationLog{})
}

// CreateBookingRequest 创建预订请求
func (s *Store) CreateBookingRequest(ctx context.Context, req *BookingRequest) error {
	if req == nil || req.ID == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "store: booking request id is empty")
	}
	now := s.clock.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if err := s.db.DB(ctx).Create(req).Error; err != nil {
		return xerrors.Wrapf(err, "store: create booking request %s", req.ID)
	}
	return nil
}

// GetBookingRequest 查询预订请求，不存在时返回 xerrors.ErrNotFound
func (s *Store) GetBookingRequest(ctx context.Context, id string) (*BookingRequest, error) {
	var req BookingRequest
	result := s.db.DB(ctx).Where("id = ?", id).Limit(1).Find(&req)
	if result.Error != nil {
		return nil, xerrors.Wrapf(result.Error, "store: get booking request %s", id)
	}
	if result.RowsAffected == 0 {
		return nil, xerrors.Wrapf(xerrors.ErrNotFound, "store: booking request %s", id)
	}
	return &req, nil
}

// UpdateBookingStatus 按主键更新状态，不存在时返回 xerrors.ErrNotFound
func (s *Store) UpdateBookingStatus(ctx context.Context, bookingRequestID, status, message string) error {
	result := s.db.DB(ctx).Model(&BookingRequest{}).
		Where("id = ?", bookingRequestID).
		Updates(map[string]any{
			"status":        status,
			"error_message": message,
			"updated_at":    s.clock.Now(),
		})
	if result.Error != nil {
		return xerrors.Wrapf(result.Error, "store: update booking request %s", bookingRequestID)
	}
	if result.RowsAffected == 0 {
		return xerrors.Wrapf(xerrors.ErrNotFound, "store: booking request %s", bookingRequestID)
	}

	s.logger.DebugContext(ctx, "booking status updated",
		clog.String("booking_request_id", bookingRequestID),
		clog.String("status", status))
	return nil
}

// Append 追加补偿审计记录
func (s *Store) Append(ctx context.Context, record *compensation.AuditRecord) error {
	if record == nil {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "store: audit record is nil")
	}
	row := &CompensationLog{
		ID:               record.ID,
		TripRequestID:    record.TripRequestID,
		BookingRequestID: record.BookingRequestID,
		CompensationType: record.CompensationType,
		FailureStage:     record.FailureStage.String(),
		FailureReason:    record.FailureReason,
		Details: CompensationDetails{
			ActionsExecuted:            nonNil(record.ActionsExecuted),
			Errors:                     nonNil(record.Errors),
			RequiresManualIntervention: record.RequiresManualIntervention,
		},
		RequiresManualIntervention: record.RequiresManualIntervention,
		CreatedAt:                  record.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.clock.Now()
	}
	if err := s.db.DB(ctx).Create(row).Error; err != nil {
		return xerrors.Wrapf(err, "store: append compensation log %s", record.ID)
	}
	return nil
}

// ListCompensationLogs 按时间顺序返回某次行程请求的全部补偿记录
func (s *Store) ListCompensationLogs(ctx context.Context, tripRequestID string) ([]CompensationLog, error) {
	var logs []CompensationLog
	err := s.db.DB(ctx).
		Where("trip_request_id = ?", tripRequestID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, xerrors.Wrapf(err, "store: list compensation logs for %s", tripRequestID)
	}
	return logs, nil
}

// ListManualInterventions 返回最近需要人工介入的补偿记录，最新的在前
func (s *Store) ListManualInterventions(ctx context.Context, limit int) ([]CompensationLog, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	var logs []CompensationLog
	err := s.db.DB(ctx).
		Where("requires_manual_intervention = ?", true).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, xerrors.Wrap(err, "store: list manual interventions")
	}
	return logs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
