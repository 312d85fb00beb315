package services

import (
	"errors"
	"fmt"
	"time"

	"villaops_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrQuotaExceeded is returned when a user has no AI queries left in the
// current billing period. Terminal for the turn; nothing is mutated.
var ErrQuotaExceeded = errors.New("AI query limit reached for the current billing period")

// UsageInfo is the derived used/limit counter exposed to billing endpoints.
// Limit is nil for unlimited plans.
type UsageInfo struct {
	Used        int        `json:"used"`
	Limit       *int       `json:"limit"`
	Plan        string     `json:"plan"`
	PeriodStart time.Time `json:"period_start"`
}

// QuotaGate admits turns against the per-user usage counter.
//
// Admit is a read-only check so denied turns never write anything. Consume is
// the canonical charge point: the turn runner calls it exactly once, when the
// first token or tool call of the turn is produced, and never on resume.
type QuotaGate interface {
	Admit(userID uuid.UUID) error
	Consume(userID uuid.UUID) error
	Usage(userID uuid.UUID) (UsageInfo, error)
}

type QuotaService struct {
	db        *gorm.DB
	planCache *cache.Cache
}

func NewQuotaService(db *gorm.DB) *QuotaService {
	return &QuotaService{
		db:        db,
		planCache: cache.New(time.Minute, 5*time.Minute),
	}
}

func (s *QuotaService) Admit(userID uuid.UUID) error {
	plan, periodStart, err := s.resolvePlan(userID)
	if err != nil {
		return err
	}
	if plan.MaxAIQueriesPerMonth == nil {
		return nil
	}

	counter, err := s.currentCounter(userID, periodStart)
	if err != nil {
		return err
	}
	if counter.Used >= *plan.MaxAIQueriesPerMonth {
		log.Info().
			Str("userID", userID.String()).
			Int("used", counter.Used).
			Int("limit", *plan.MaxAIQueriesPerMonth).
			Msg("AI query quota exhausted")
		return ErrQuotaExceeded
	}
	return nil
}

// Consume atomically increments the counter, failing when the limit is
// already reached. The conditional UPDATE is the only write path for Used, so
// two concurrent turns for the same user can never both take the last slot.
func (s *QuotaService) Consume(userID uuid.UUID) error {
	plan, periodStart, err := s.resolvePlan(userID)
	if err != nil {
		return err
	}
	if _, err := s.currentCounter(userID, periodStart); err != nil {
		return err
	}

	tx := s.db.Model(&models.UsageCounter{}).
		Where("user_id = ? AND period_start = ?", userID, periodStart)
	if plan.MaxAIQueriesPerMonth != nil {
		tx = tx.Where("used < ?", *plan.MaxAIQueriesPerMonth)
	}
	result := tx.UpdateColumn("used", gorm.Expr("used + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

func (s *QuotaService) Usage(userID uuid.UUID) (UsageInfo, error) {
	plan, periodStart, err := s.resolvePlan(userID)
	if err != nil {
		return UsageInfo{}, err
	}
	counter, err := s.currentCounter(userID, periodStart)
	if err != nil {
		return UsageInfo{}, err
	}
	return UsageInfo{
		Used:        counter.Used,
		Limit:       plan.MaxAIQueriesPerMonth,
		Plan:        plan.Name,
		PeriodStart: periodStart,
	}, nil
}

// resolvePlan looks up the user's subscription (creating a free-tier row on
// first touch) and returns its limits plus the current billing period start.
// The plan lookup is cached for a minute; the counter itself never is.
func (s *QuotaService) resolvePlan(userID uuid.UUID) (PlanLimits, time.Time, error) {
	type cachedPlan struct {
		plan        PlanLimits
		periodStart time.Time
	}
	if entry, found := s.planCache.Get(userID.String()); found {
		cp := entry.(cachedPlan)
		return cp.plan, cp.periodStart, nil
	}

	sub := models.Subscription{
		UserID: userID,
		Plan:   "free",
		Status: "active",
	}
	result := s.db.Where(models.Subscription{UserID: userID}).FirstOrCreate(&sub)
	if result.Error != nil {
		return PlanLimits{}, time.Time{}, fmt.Errorf("failed to resolve subscription: %w", result.Error)
	}

	plan := GetPlan(sub.Plan)
	periodStart := periodStartFor(&sub)
	s.planCache.Set(userID.String(), cachedPlan{plan: plan, periodStart: periodStart}, cache.DefaultExpiration)
	return plan, periodStart, nil
}

func (s *QuotaService) currentCounter(userID uuid.UUID, periodStart time.Time) (*models.UsageCounter, error) {
	counter := models.UsageCounter{
		UserID:      userID,
		PeriodStart: periodStart,
	}
	result := s.db.
		Clauses(clause.OnConflict{DoNothing: true}).
		Where(models.UsageCounter{UserID: userID, PeriodStart: periodStart}).
		FirstOrCreate(&counter)
	if result.Error != nil {
		return nil, result.Error
	}
	return &counter, nil
}

// periodStartFor mirrors the billing period: the Stripe period start when a
// paid subscription carries one, otherwise the first of the current month.
func periodStartFor(sub *models.Subscription) time.Time {
	if sub.CurrentPeriodStart != nil {
		return sub.CurrentPeriodStart.UTC().Truncate(time.Second)
	}
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
