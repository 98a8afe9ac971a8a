package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"studybuddy/internal/metrics"
	"studybuddy/internal/model"
	"studybuddy/internal/repository"
)

var (
	// ErrFileTooLarge is matched by a QuotaError rejecting an upload over the plan's size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrQuotaExceeded is matched by a QuotaError rejecting an action over the plan's cap.
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrInvalidUser   = errors.New("user id is required")
	ErrUnknownPlan   = errors.New("unknown plan tier")
)

// QuotaErrorKind distinguishes the two terminal quota denials.
type QuotaErrorKind string

const (
	QuotaFileTooLarge QuotaErrorKind = "file_too_large"
	QuotaLimitReached QuotaErrorKind = "quota_exceeded"
)

// QuotaError is a denial shown to the user together with its upgrade path.
type QuotaError struct {
	Kind     QuotaErrorKind
	Resource model.ResourceType
	Tier     model.PlanTier
	// UpgradeTo is empty at the top tier.
	UpgradeTo model.PlanTier
	Limit     int
	Used      int
	// FileSize and MaxFileSize are set for QuotaFileTooLarge.
	FileSize    int64
	MaxFileSize int64
	Message     string
}

func (e *QuotaError) Error() string {
	return e.Message
}

func (e *QuotaError) Is(target error) bool {
	switch e.Kind {
	case QuotaFileTooLarge:
		return target == ErrFileTooLarge
	case QuotaLimitReached:
		return target == ErrQuotaExceeded
	}
	return false
}

// QuotaService gates uploads behind per-user, time-windowed plan caps.
type QuotaService interface {
	// Reserve admits one action of the resource for the user, or returns a
	// *QuotaError. fileSize is the upload size in bytes, 0 when unknown.
	Reserve(ctx context.Context, userID string, resource model.ResourceType, tier model.PlanTier, fileSize int64) (*model.Reservation, error)
	// CurrentUsage reports usage for display. It never writes.
	CurrentUsage(ctx context.Context, userID string, tier model.PlanTier) (*model.UsageSnapshot, error)
}

type quotaService struct {
	repo    repository.UsageRepository
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewQuotaService creates a new QuotaService with a scoped logger.
func NewQuotaService(repo repository.UsageRepository, m *metrics.Metrics, logger zerolog.Logger) QuotaService {
	return &quotaService{
		repo:    repo,
		metrics: m,
		logger:  logger.With().Str("service", "QuotaService").Logger(),
		now:     time.Now,
	}
}

func (s *quotaService) Reserve(ctx context.Context, userID string, resource model.ResourceType, tier model.PlanTier, fileSize int64) (*model.Reservation, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	limits, ok := model.LimitsFor(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, tier)
	}
	if _, err := model.ParseResourceType(string(resource)); err != nil {
		return nil, err
	}

	// Size is checked before the store is read and is independent of usage.
	if resource == model.ResourceDocument && fileSize > limits.MaxFileSizeBytes {
		s.metrics.QuotaDecision(string(resource), string(QuotaFileTooLarge))
		return nil, fileTooLarge(limits, fileSize)
	}

	now := s.now().UTC()
	limit := limits.CapFor(resource)
	period := resource.ResetPeriod()

	var reservation *model.Reservation
	err := s.repo.UpdateUsage(ctx, userID, now, func(rec *model.UsageRecord) (bool, error) {
		counter := rec.Counter(resource)
		reset := false
		if counter.Expired(now, period) {
			counter.Count = 0
			counter.LastReset = now
			reset = true
		}

		if limit != model.Unlimited && counter.Count >= limit {
			return reset, limitReached(limits, resource, counter.Count)
		}

		counter.Count++
		reservation = &model.Reservation{
			UserID:      userID,
			Resource:    resource,
			Count:       counter.Count,
			Limit:       limit,
			WindowStart: counter.LastReset,
			ResetsAt:    counter.LastReset.Add(period),
		}
		return true, nil
	})

	var qe *QuotaError
	switch {
	case errors.As(err, &qe):
		s.metrics.QuotaDecision(string(resource), string(qe.Kind))
		s.logger.Info().Str("user_id", userID).Str("resource", string(resource)).Str("tier", string(tier)).Int("used", qe.Used).Int("limit", qe.Limit).Msg("Quota reservation denied")
		return nil, err
	case err != nil:
		s.logger.Error().Err(err).Str("user_id", userID).Str("resource", string(resource)).Msg("Failed to reserve quota")
		return nil, fmt.Errorf("reserve %s for user %s: %w", resource, userID, err)
	}

	s.metrics.QuotaDecision(string(resource), "allowed")
	return reservation, nil
}

func (s *quotaService) CurrentUsage(ctx context.Context, userID string, tier model.PlanTier) (*model.UsageSnapshot, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	limits, ok := model.LimitsFor(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, tier)
	}

	rec, err := s.repo.GetUsage(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch usage")
		return nil, fmt.Errorf("fetch usage for user %s: %w", userID, err)
	}

	now := s.now().UTC()
	snapshot := &model.UsageSnapshot{UserID: userID}
	if rec == nil {
		snapshot.Documents = projectUsage(nil, model.ResourceDocument, limits, now)
		snapshot.Lectures = projectUsage(nil, model.ResourceLecture, limits, now)
		return snapshot, nil
	}
	snapshot.Documents = projectUsage(&rec.Documents, model.ResourceDocument, limits, now)
	snapshot.Lectures = projectUsage(&rec.Lectures, model.ResourceLecture, limits, now)
	return snapshot, nil
}

// projectUsage reports an expired window as empty, matching what the next
// reservation would see, without persisting the reset.
func projectUsage(c *model.UsageCounter, resource model.ResourceType, limits model.PlanLimits, now time.Time) model.ResourceUsage {
	limit := limits.CapFor(resource)
	usage := model.ResourceUsage{Limit: limit}

	period := resource.ResetPeriod()
	if c != nil && !c.Expired(now, period) {
		usage.Used = c.Count
		resetsAt := c.LastReset.Add(period)
		usage.ResetsAt = &resetsAt
	}

	if limit == model.Unlimited {
		usage.Remaining = model.Unlimited
	} else {
		usage.Remaining = max(limit-usage.Used, 0)
	}
	return usage
}

func upgradeSentence(limits model.PlanLimits) string {
	next, ok := model.LimitsFor(limits.UpgradeTo)
	if !ok {
		return ""
	}
	return " Upgrade to " + next.DisplayName + " for more."
}

func fileTooLarge(limits model.PlanLimits, size int64) *QuotaError {
	msg := fmt.Sprintf("This file is %s, over the %s limit of the %s plan.",
		formatMiB(size), formatMiB(limits.MaxFileSizeBytes), limits.DisplayName)
	if next, ok := model.LimitsFor(limits.UpgradeTo); ok {
		msg += fmt.Sprintf(" Upgrade to %s to upload files up to %s.", next.DisplayName, formatMiB(next.MaxFileSizeBytes))
	}
	return &QuotaError{
		Kind:        QuotaFileTooLarge,
		Resource:    model.ResourceDocument,
		Tier:        limits.Tier,
		UpgradeTo:   limits.UpgradeTo,
		FileSize:    size,
		MaxFileSize: limits.MaxFileSizeBytes,
		Message:     msg,
	}
}

func limitReached(limits model.PlanLimits, resource model.ResourceType, used int) *QuotaError {
	limit := limits.CapFor(resource)
	var msg string
	switch resource {
	case model.ResourceDocument:
		msg = fmt.Sprintf("You've used all %d document uploads for this week.", limit)
	default:
		msg = fmt.Sprintf("You've used all %d lecture recordings for this month.", limit)
	}
	return &QuotaError{
		Kind:      QuotaLimitReached,
		Resource:  resource,
		Tier:      limits.Tier,
		UpgradeTo: limits.UpgradeTo,
		Limit:     limit,
		Used:      used,
		Message:   msg + upgradeSentence(limits),
	}
}

func formatMiB(n int64) string {
	const mib = 1 << 20
	if n%mib == 0 {
		return fmt.Sprintf("%d MB", n/mib)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/mib)
}
