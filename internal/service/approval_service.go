package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coop-approval-api/internal/models"
	"github.com/noah-isme/coop-approval-api/internal/workflow"
	"github.com/noah-isme/coop-approval-api/pkg/config"
	appErrors "github.com/noah-isme/coop-approval-api/pkg/errors"
)

// StatusStore persists approval state and its append-only audit trail.
type StatusStore interface {
	GetCurrent(ctx context.Context, enrollmentID string) (*models.EnrollmentApproval, error)
	Create(ctx context.Context, enrollmentID string) (*models.EnrollmentApproval, error)
	AppendTransition(ctx context.Context, enrollmentID string, expected models.ApprovalStatus, record *models.TransitionRecord) (*models.EnrollmentApproval, error)
	History(ctx context.Context, enrollmentID string, page, pageSize int) ([]models.TransitionRecord, int, error)
}

// RoleResolver maps an authenticated actor to their workflow role for a
// given enrollment.
type RoleResolver interface {
	RoleOf(ctx context.Context, actorID, enrollmentID string) (models.UserRole, error)
}

// DocumentChecker reports whether an enrollment's required paperwork is
// complete.
type DocumentChecker interface {
	HasRequiredDocuments(ctx context.Context, enrollmentID string) (bool, error)
}

// StatusCache caches the hot status read path.
type StatusCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TransitionNotifier receives committed transitions for fan-out.
type TransitionNotifier interface {
	NotifyTransition(ctx context.Context, record models.TransitionRecord)
}

// ApprovalService orchestrates transition requests: it authorizes the
// actor, consults the state machine, commits through the store under
// optimistic concurrency and hands committed transitions to the
// notifier. Notification failures never affect a committed transition.
type ApprovalService struct {
	store    StatusStore
	roles    RoleResolver
	docs     DocumentChecker
	cache    StatusCache
	notifier TransitionNotifier
	metrics  *MetricsService
	logger   *zap.Logger

	workflowCfg config.WorkflowConfig
	cacheCfg    config.StatusCacheConfig
}

// NewApprovalService wires the orchestrator. cache and notifier may be
// nil when those features are disabled.
func NewApprovalService(store StatusStore, roles RoleResolver, docs DocumentChecker, cache StatusCache, notifier TransitionNotifier, metrics *MetricsService, logger *zap.Logger, workflowCfg config.WorkflowConfig, cacheCfg config.StatusCacheConfig) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workflowCfg.MaxTransitionAttempts <= 0 {
		workflowCfg.MaxTransitionAttempts = 3
	}
	return &ApprovalService{
		store:       store,
		roles:       roles,
		docs:        docs,
		cache:       cache,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
		workflowCfg: workflowCfg,
		cacheCfg:    cacheCfg,
	}
}

func statusCacheKey(enrollmentID string) string {
	return "approval:status:" + enrollmentID
}

// Register creates the approval record for a newly submitted enrollment
// in the initial REGISTERED status.
func (s *ApprovalService) Register(ctx context.Context, enrollmentID string) (*models.EnrollmentApproval, error) {
	approval, err := s.store.Create(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "approval already registered for this enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register approval")
	}
	s.logger.Info("approval registered", zap.String("enrollment_id", enrollmentID))
	return approval, nil
}

// RequestTransition applies one action by one actor to an enrollment's
// approval. The commit uses a guarded update: when a competing request
// wins the race, the current status is re-read and the action is
// re-evaluated against it, up to the configured attempt budget.
func (s *ApprovalService) RequestTransition(ctx context.Context, enrollmentID, actorID string, action models.ApprovalAction, reason *string) (*models.TransitionResult, error) {
	switch action {
	case models.ActionApprove, models.ActionReject, models.ActionCancel:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", action))
	}

	role, err := s.roles.RoleOf(ctx, actorID, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "actor has no role for this enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve actor role")
	}

	if s.workflowCfg.RequireDocuments && action == models.ActionApprove && role == models.RoleAdvisor {
		complete, err := s.docs.HasRequiredDocuments(ctx, enrollmentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check required documents")
		}
		if !complete {
			s.metrics.RecordTransition(string(action), "rejected")
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "required documents are missing or unverified")
		}
	}

	for attempt := 1; attempt <= s.workflowCfg.MaxTransitionAttempts; attempt++ {
		current, err := s.store.GetCurrent(ctx, enrollmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment approval not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read approval status")
		}

		next, err := workflow.Compute(current.Status, action, role)
		if err != nil {
			s.metrics.RecordTransition(string(action), "rejected")
			return nil, rejectionError(err)
		}

		record := &models.TransitionRecord{
			ToStatus:  next,
			ActorRole: role,
			ActorID:   actorID,
			Reason:    reason,
		}

		approval, err := s.store.AppendTransition(ctx, enrollmentID, current.Status, record)
		if err != nil {
			if errors.Is(err, appErrors.ErrConflict) {
				s.metrics.RecordContentionRetry()
				s.logger.Debug("transition lost the race, re-reading",
					zap.String("enrollment_id", enrollmentID),
					zap.Int("attempt", attempt))
				continue
			}
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment approval not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transition")
		}

		s.invalidateStatus(ctx, enrollmentID)
		if s.notifier != nil {
			s.notifier.NotifyTransition(ctx, *record)
		}
		s.metrics.RecordTransition(string(action), "committed")
		s.logger.Info("transition committed",
			zap.String("enrollment_id", enrollmentID),
			zap.String("from", string(record.FromStatus)),
			zap.String("to", string(record.ToStatus)),
			zap.String("actor_role", string(role)))

		return &models.TransitionResult{
			EnrollmentID: enrollmentID,
			FromStatus:   record.FromStatus,
			Status:       approval.Status,
			UpdatedAt:    approval.UpdatedAt,
		}, nil
	}

	s.metrics.RecordTransition(string(action), "contention")
	return nil, appErrors.ErrContention
}

// GetStatus returns the current approval status, reading through the
// cache when enabled.
func (s *ApprovalService) GetStatus(ctx context.Context, enrollmentID string) (*models.EnrollmentApproval, error) {
	if s.cacheEnabled() {
		var cached models.EnrollmentApproval
		if err := s.cache.Get(ctx, statusCacheKey(enrollmentID), &cached); err == nil {
			s.metrics.RecordCacheLookup(true)
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("status cache read failed", zap.Error(err))
		}
		s.metrics.RecordCacheLookup(false)
	}

	approval, err := s.store.GetCurrent(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment approval not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read approval status")
	}

	if s.cacheEnabled() {
		if err := s.cache.Set(ctx, statusCacheKey(enrollmentID), approval, s.cacheCfg.TTL); err != nil {
			s.logger.Warn("status cache write failed", zap.Error(err))
		}
	}

	return approval, nil
}

// History returns the enrollment's audit trail in chronological order.
func (s *ApprovalService) History(ctx context.Context, enrollmentID string, page, pageSize int) ([]models.TransitionRecord, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	records, total, err := s.store.History(ctx, enrollmentID, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read transition history")
	}
	return records, total, nil
}

func (s *ApprovalService) cacheEnabled() bool {
	return s.cache != nil && s.cacheCfg.Enabled
}

func (s *ApprovalService) invalidateStatus(ctx context.Context, enrollmentID string) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Delete(ctx, statusCacheKey(enrollmentID)); err != nil {
		s.logger.Warn("status cache invalidation failed", zap.Error(err))
	}
}

// rejectionError maps a state-machine refusal onto the API error space.
// Role refusals surface as InvalidRole; everything else, including
// actions against terminal statuses, surfaces as IllegalFromState.
func rejectionError(err error) error {
	var rejection *workflow.Rejection
	if !errors.As(err, &rejection) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "transition evaluation failed")
	}
	if rejection.Reason == workflow.ReasonInvalidRole {
		return appErrors.Clone(appErrors.ErrInvalidRole, rejection.Detail)
	}
	return appErrors.Clone(appErrors.ErrIllegalFromState, rejection.Detail)
}
