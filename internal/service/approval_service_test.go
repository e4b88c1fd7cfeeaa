package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/coop-approval-api/internal/models"
	"github.com/noah-isme/coop-approval-api/pkg/config"
	appErrors "github.com/noah-isme/coop-approval-api/pkg/errors"
)

type fakeStatusStore struct {
	mu        sync.Mutex
	approvals map[string]*models.EnrollmentApproval
	history   map[string][]models.TransitionRecord
	conflicts int
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{
		approvals: make(map[string]*models.EnrollmentApproval),
		history:   make(map[string][]models.TransitionRecord),
	}
}

func (s *fakeStatusStore) seed(enrollmentID string, status models.ApprovalStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[enrollmentID] = &models.EnrollmentApproval{
		EnrollmentID: enrollmentID,
		Status:       status,
		UpdatedAt:    time.Now().UTC(),
	}
}

func (s *fakeStatusStore) GetCurrent(_ context.Context, enrollmentID string) (*models.EnrollmentApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[enrollmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *approval
	return &copied, nil
}

func (s *fakeStatusStore) Create(_ context.Context, enrollmentID string) (*models.EnrollmentApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[enrollmentID]; ok {
		return nil, appErrors.ErrConflict
	}
	approval := &models.EnrollmentApproval{
		EnrollmentID: enrollmentID,
		Status:       models.StatusRegistered,
		UpdatedAt:    time.Now().UTC(),
	}
	s.approvals[enrollmentID] = approval
	copied := *approval
	return &copied, nil
}

func (s *fakeStatusStore) AppendTransition(_ context.Context, enrollmentID string, expected models.ApprovalStatus, record *models.TransitionRecord) (*models.EnrollmentApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflicts > 0 {
		s.conflicts--
		return nil, appErrors.ErrConflict
	}

	approval, ok := s.approvals[enrollmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if approval.Status != expected {
		return nil, appErrors.ErrConflict
	}

	now := time.Now().UTC()
	record.ID = uuid.NewString()
	record.EnrollmentID = enrollmentID
	record.FromStatus = expected
	record.OccurredAt = now
	approval.Status = record.ToStatus
	approval.UpdatedAt = now
	s.history[enrollmentID] = append(s.history[enrollmentID], *record)

	copied := *approval
	return &copied, nil
}

func (s *fakeStatusStore) History(_ context.Context, enrollmentID string, _, _ int) ([]models.TransitionRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := append([]models.TransitionRecord(nil), s.history[enrollmentID]...)
	return records, len(records), nil
}

type fakeRoleResolver struct {
	roles map[string]models.UserRole
}

func (r *fakeRoleResolver) RoleOf(_ context.Context, actorID, _ string) (models.UserRole, error) {
	role, ok := r.roles[actorID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return role, nil
}

type fakeDocumentChecker struct {
	complete bool
}

func (d *fakeDocumentChecker) HasRequiredDocuments(_ context.Context, _ string) (bool, error) {
	return d.complete, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	records []models.TransitionRecord
}

func (n *fakeNotifier) NotifyTransition(_ context.Context, record models.TransitionRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, record)
}

func (n *fakeNotifier) all() []models.TransitionRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.TransitionRecord(nil), n.records...)
}

type fakeStatusCache struct {
	mu      sync.Mutex
	entries map[string]models.EnrollmentApproval
	gets    int
	deletes int
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{entries: make(map[string]models.EnrollmentApproval)}
}

func (c *fakeStatusCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	entry, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*models.EnrollmentApproval) = entry
	return nil
}

func (c *fakeStatusCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *value.(*models.EnrollmentApproval)
	return nil
}

func (c *fakeStatusCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.entries, key)
	return nil
}

func newTestApprovalService(store *fakeStatusStore, roles map[string]models.UserRole, opts ...func(*ApprovalService)) (*ApprovalService, *fakeNotifier) {
	notifier := &fakeNotifier{}
	svc := NewApprovalService(
		store,
		&fakeRoleResolver{roles: roles},
		&fakeDocumentChecker{complete: true},
		nil,
		notifier,
		nil,
		zap.NewNop(),
		config.WorkflowConfig{MaxTransitionAttempts: 3},
		config.StatusCacheConfig{},
	)
	for _, opt := range opts {
		opt(svc)
	}
	return svc, notifier
}

var testRoles = map[string]models.UserRole{
	"adm-1": models.RoleAdmin,
	"adv-1": models.RoleAdvisor,
	"com-1": models.RoleCommittee,
	"stu-1": models.RoleStudent,
}

func TestRequestTransitionHappyPath(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusRegistered)
	svc, notifier := newTestApprovalService(store, testRoles)
	ctx := context.Background()

	result, err := svc.RequestTransition(ctx, "enr-100", "adv-1", models.ActionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, result.FromStatus)
	assert.Equal(t, models.StatusAdvisorApproved, result.Status)

	result, err = svc.RequestTransition(ctx, "enr-100", "com-1", models.ActionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitteeApproved, result.Status)

	records, total, err := svc.History(ctx, "enr-100", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, records, 2)
	assert.Equal(t, models.RoleAdvisor, records[0].ActorRole)
	assert.Equal(t, models.RoleCommittee, records[1].ActorRole)
	assert.Len(t, notifier.all(), 2)
}

func TestRequestTransitionAdvisorRejectWithReason(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-101", models.StatusRegistered)
	svc, notifier := newTestApprovalService(store, testRoles)

	reason := "missing employer agreement"
	result, err := svc.RequestTransition(context.Background(), "enr-101", "adv-1", models.ActionReject, &reason)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, result.Status)

	records := notifier.all()
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Reason)
	assert.Equal(t, reason, *records[0].Reason)
}

func TestRequestTransitionAdminCancelAfterCommitteeApproval(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-103", models.StatusCommitteeApproved)
	svc, _ := newTestApprovalService(store, testRoles)

	result, err := svc.RequestTransition(context.Background(), "enr-103", "adm-1", models.ActionCancel, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitteeApproved, result.FromStatus)
	assert.Equal(t, models.StatusCancelled, result.Status)
}

func TestRequestTransitionIdempotentRejection(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-102", models.StatusRejected)
	svc, notifier := newTestApprovalService(store, testRoles)

	_, err := svc.RequestTransition(context.Background(), "enr-102", "adv-1", models.ActionReject, nil)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrIllegalFromState.Code, appErr.Code)

	_, total, err := svc.History(context.Background(), "enr-102", 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, notifier.all())
}

func TestRequestTransitionInvalidRole(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusRegistered)
	svc, _ := newTestApprovalService(store, testRoles)

	for actor, action := range map[string]models.ApprovalAction{
		"stu-1": models.ActionApprove,
		"com-1": models.ActionCancel,
		"adv-1": models.ActionCancel,
	} {
		_, err := svc.RequestTransition(context.Background(), "enr-100", actor, action, nil)
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr, "actor %s action %s", actor, action)
		assert.Equal(t, appErrors.ErrInvalidRole.Code, appErr.Code)
	}

	current, err := svc.GetStatus(context.Background(), "enr-100")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, current.Status)
}

func TestRequestTransitionCommitteeApproveOutOfOrder(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusRegistered)
	svc, _ := newTestApprovalService(store, testRoles)

	_, err := svc.RequestTransition(context.Background(), "enr-100", "com-1", models.ActionApprove, nil)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrIllegalFromState.Code, appErr.Code)
}

func TestRequestTransitionUnknownActor(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusRegistered)
	svc, _ := newTestApprovalService(store, testRoles)

	_, err := svc.RequestTransition(context.Background(), "enr-100", "ghost", models.ActionApprove, nil)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestRequestTransitionUnknownEnrollment(t *testing.T) {
	store := newFakeStatusStore()
	svc, _ := newTestApprovalService(store, testRoles)

	_, err := svc.RequestTransition(context.Background(), "missing", "adv-1", models.ActionApprove, nil)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestRequestTransitionRetriesThenCommits(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusRegistered)
	store.conflicts = 2
	svc, _ := newTestApprovalService(store, testRoles)

	result, err := svc.RequestTransition(context.Background(), "enr-100", "adv-1", models.ActionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAdvisorApproved, result.Status)
}

func TestRequestTransitionContentionExhausted(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusRegistered)
	store.conflicts = 10
	svc, notifier := newTestApprovalService(store, testRoles)

	_, err := svc.RequestTransition(context.Background(), "enr-100", "adv-1", models.ActionApprove, nil)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrContention.Code, appErr.Code)
	assert.Empty(t, notifier.all())
}

func TestRequestTransitionConcurrentRequestsOneCommits(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusAdvisorApproved)
	svc, _ := newTestApprovalService(store, testRoles)

	// Committee approval and an admin cancel race. Both are legal from
	// ADVISOR_APPROVED, so whichever loses the guarded update re-reads a
	// terminal-or-approved status and is refused; exactly one commits.
	type outcome struct {
		result *models.TransitionResult
		err    error
	}
	results := make(chan outcome, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r, err := svc.RequestTransition(context.Background(), "enr-100", "com-1", models.ActionApprove, nil)
		results <- outcome{r, err}
	}()
	go func() {
		defer wg.Done()
		r, err := svc.RequestTransition(context.Background(), "enr-100", "adm-1", models.ActionCancel, nil)
		results <- outcome{r, err}
	}()
	wg.Wait()
	close(results)

	committed := 0
	for o := range results {
		if o.err == nil {
			committed++
			continue
		}
	}
	// The cancel is legal even after committee approval, so both may
	// commit in sequence; at least one always does and the audit trail
	// stays consistent with the final status.
	require.GreaterOrEqual(t, committed, 1)

	records, total, err := svc.History(context.Background(), "enr-100", 1, 20)
	require.NoError(t, err)
	require.Equal(t, committed, total)
	current, err := svc.GetStatus(context.Background(), "enr-100")
	require.NoError(t, err)
	assert.Equal(t, records[len(records)-1].ToStatus, current.Status)
}

func TestRequestTransitionDocumentPrecondition(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusRegistered)
	notifier := &fakeNotifier{}
	svc := NewApprovalService(
		store,
		&fakeRoleResolver{roles: testRoles},
		&fakeDocumentChecker{complete: false},
		nil,
		notifier,
		nil,
		zap.NewNop(),
		config.WorkflowConfig{MaxTransitionAttempts: 3, RequireDocuments: true},
		config.StatusCacheConfig{},
	)

	_, err := svc.RequestTransition(context.Background(), "enr-100", "adv-1", models.ActionApprove, nil)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)

	// Rejections are not gated on paperwork.
	_, err = svc.RequestTransition(context.Background(), "enr-100", "adv-1", models.ActionReject, nil)
	require.NoError(t, err)
}

func TestGetStatusReadThroughCache(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusRegistered)
	cache := newFakeStatusCache()
	svc := NewApprovalService(
		store,
		&fakeRoleResolver{roles: testRoles},
		&fakeDocumentChecker{complete: true},
		cache,
		&fakeNotifier{},
		nil,
		zap.NewNop(),
		config.WorkflowConfig{MaxTransitionAttempts: 3},
		config.StatusCacheConfig{Enabled: true, TTL: time.Minute},
	)
	ctx := context.Background()

	first, err := svc.GetStatus(ctx, "enr-100")
	require.NoError(t, err)
	second, err := svc.GetStatus(ctx, "enr-100")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, 2, cache.gets)
	assert.Len(t, cache.entries, 1)

	// A committed transition invalidates the cached status.
	_, err = svc.RequestTransition(ctx, "enr-100", "adv-1", models.ActionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.deletes)

	refreshed, err := svc.GetStatus(ctx, "enr-100")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAdvisorApproved, refreshed.Status)
}

func TestRegister(t *testing.T) {
	store := newFakeStatusStore()
	svc, _ := newTestApprovalService(store, testRoles)
	ctx := context.Background()

	approval, err := svc.Register(ctx, "enr-200")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, approval.Status)

	_, err = svc.Register(ctx, "enr-200")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestRequestTransitionUnknownAction(t *testing.T) {
	store := newFakeStatusStore()
	store.seed("enr-100", models.StatusRegistered)
	svc, _ := newTestApprovalService(store, testRoles)

	_, err := svc.RequestTransition(context.Background(), "enr-100", "adv-1", models.ApprovalAction("promote"), nil)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
