package service

import (
	"context"
	"math"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/cache"
	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dashboardCacheKey = "analytics:dashboard"
	dashboardTTL      = 30 * time.Second
	recentTickets     = 10
	DefaultTrendDays  = 7
	MaxTrendDays      = 90
	// aiSuccessConfidence is the confidence at which a classification counts as usable.
	aiSuccessConfidence = 0.5
)

type Overview struct {
	TotalTickets          int64   `json:"total_tickets"`
	OpenTickets           int64   `json:"open_tickets"`
	ResolvedTickets       int64   `json:"resolved_tickets"`
	TodayTickets          int64   `json:"today_tickets"`
	AIProcessed           int64   `json:"ai_processed"`
	AISuccessRate         float64 `json:"ai_success_rate"`
	AvgResolutionTimeHour float64 `json:"average_resolution_time_hours"`
}

type Distribution struct {
	ByCategory map[string]int64 `json:"tickets_by_category"`
	ByUrgency  map[string]int64 `json:"tickets_by_urgency"`
	ByStatus   map[string]int64 `json:"tickets_by_status"`
	BySource   map[string]int64 `json:"tickets_by_source"`
}

type Performance struct {
	ResolutionRate float64 `json:"resolution_rate"`
	EscalationRate float64 `json:"escalation_rate"`
}

type RecentTicket struct {
	ID           uuid.UUID          `json:"id"`
	TicketNumber string             `json:"ticket_number"`
	Title        string             `json:"title"`
	Status       model.TicketStatus `json:"status"`
	Urgency      model.Urgency      `json:"urgency"`
	Category     string             `json:"category,omitempty"`
	UserName     string             `json:"user_name,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

type Dashboard struct {
	Overview      Overview       `json:"overview"`
	Distribution  Distribution   `json:"distribution"`
	Performance   Performance    `json:"performance"`
	RecentTickets []RecentTicket `json:"recent_tickets"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

type DailyPoint struct {
	Date     string `json:"date"`
	Created  int64  `json:"created"`
	Resolved int64  `json:"resolved"`
}

type Trends struct {
	Days       int              `json:"days"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Daily      []DailyPoint     `json:"daily"`
	ByLanguage map[string]int64 `json:"tickets_by_language"`
}

// AnalyticsService computes helpdesk statistics. Bucketing by day happens in
// Go so the same queries run on Postgres and SQLite.
type AnalyticsService struct {
	db    *gorm.DB
	cache cache.Cache
	log   *zap.Logger
	now   func() time.Time
}

// NewAnalyticsService takes an optional cache; nil disables dashboard caching.
func NewAnalyticsService(db *gorm.DB, c cache.Cache, log *zap.Logger) *AnalyticsService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsService{db: db, cache: c, log: log.Named("analytics"), now: func() time.Time { return time.Now().UTC() }}
}

func (s *AnalyticsService) Dashboard(ctx context.Context) (*Dashboard, error) {
	if s.cache != nil {
		var cached Dashboard
		hit, err := s.cache.Get(ctx, dashboardCacheKey, &cached)
		if err != nil {
			s.log.Warn("dashboard cache read failed", zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	d, err := s.computeDashboard(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, dashboardCacheKey, d, dashboardTTL); err != nil {
			s.log.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	return d, nil
}

func (s *AnalyticsService) tickets(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&model.Ticket{})
}

func (s *AnalyticsService) computeDashboard(ctx context.Context) (*Dashboard, error) {
	now := s.now()
	d := &Dashboard{GeneratedAt: now}
	var err error

	if d.Distribution.ByStatus, err = s.countBy(ctx, "status"); err != nil {
		return nil, err
	}
	if d.Distribution.ByCategory, err = s.countBy(ctx, "category"); err != nil {
		return nil, err
	}
	if d.Distribution.ByUrgency, err = s.countBy(ctx, "urgency"); err != nil {
		return nil, err
	}
	if d.Distribution.BySource, err = s.countBy(ctx, "source"); err != nil {
		return nil, err
	}

	st := d.Distribution.ByStatus
	o := &d.Overview
	for _, n := range st {
		o.TotalTickets += n
	}
	o.OpenTickets = st[string(model.TicketStatusOpen)] + st[string(model.TicketStatusInProgress)] + st[string(model.TicketStatusEscalated)]
	o.ResolvedTickets = st[string(model.TicketStatusResolved)] + st[string(model.TicketStatusClosed)]

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := s.tickets(ctx).Where("created_at >= ?", startOfDay).Count(&o.TodayTickets).Error; err != nil {
		return nil, errors.Wrap(err, "count today")
	}
	if err := s.tickets(ctx).Where("ai_processed = ?", true).Count(&o.AIProcessed).Error; err != nil {
		return nil, errors.Wrap(err, "count ai processed")
	}
	var aiGood int64
	if err := s.tickets(ctx).Where("ai_processed = ? AND ai_confidence >= ?", true, aiSuccessConfidence).Count(&aiGood).Error; err != nil {
		return nil, errors.Wrap(err, "count ai success")
	}
	o.AISuccessRate = percent(aiGood, o.AIProcessed)

	if o.AvgResolutionTimeHour, err = s.avgResolutionHours(ctx); err != nil {
		return nil, err
	}
	d.Performance = Performance{
		ResolutionRate: percent(o.ResolvedTickets, o.TotalTickets),
		EscalationRate: percent(st[string(model.TicketStatusEscalated)], o.TotalTickets),
	}

	var recent []model.Ticket
	if err := s.tickets(ctx).Order("created_at DESC").Limit(recentTickets).Find(&recent).Error; err != nil {
		return nil, errors.Wrap(err, "recent tickets")
	}
	d.RecentTickets = make([]RecentTicket, 0, len(recent))
	for _, t := range recent {
		d.RecentTickets = append(d.RecentTickets, RecentTicket{
			ID: t.ID, TicketNumber: t.TicketNumber, Title: t.Title, Status: t.Status,
			Urgency: t.Urgency, Category: t.Category, UserName: t.UserName, CreatedAt: t.CreatedAt,
		})
	}
	return d, nil
}

type labelCount struct {
	Label string
	Total int64
}

// countBy groups live tickets by column. Only fixed column names are passed in.
func (s *AnalyticsService) countBy(ctx context.Context, column string) (map[string]int64, error) {
	var rows []labelCount
	err := s.tickets(ctx).
		Select(column + " AS label, COUNT(*) AS total").
		Where(column + " <> ''").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "count by %s", column)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Total
	}
	return out, nil
}

func (s *AnalyticsService) avgResolutionHours(ctx context.Context) (float64, error) {
	var rows []struct {
		CreatedAt  time.Time
		ResolvedAt *time.Time
	}
	err := s.tickets(ctx).Select("created_at, resolved_at").Where("resolved_at IS NOT NULL").Scan(&rows).Error
	if err != nil {
		return 0, errors.Wrap(err, "resolution times")
	}
	var sum float64
	var n int
	for _, r := range rows {
		if r.ResolvedAt == nil || r.ResolvedAt.Before(r.CreatedAt) {
			continue
		}
		sum += r.ResolvedAt.Sub(r.CreatedAt).Hours()
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return round2(sum / float64(n)), nil
}

// Trends reports daily created and resolved counts for the last days days,
// today included, with empty days filled with zeros.
func (s *AnalyticsService) Trends(ctx context.Context, days int) (*Trends, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	if days > MaxTrendDays {
		days = MaxTrendDays
	}
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -(days - 1))

	var created, resolved []time.Time
	if err := s.tickets(ctx).Where("created_at >= ?", from).Pluck("created_at", &created).Error; err != nil {
		return nil, errors.Wrap(err, "created trend")
	}
	if err := s.tickets(ctx).Where("resolved_at IS NOT NULL AND resolved_at >= ?", from).Pluck("resolved_at", &resolved).Error; err != nil {
		return nil, errors.Wrap(err, "resolved trend")
	}

	points := make([]DailyPoint, days)
	index := make(map[string]int, days)
	for i := range points {
		day := from.AddDate(0, 0, i).Format(time.DateOnly)
		points[i].Date = day
		index[day] = i
	}
	for _, at := range created {
		if i, ok := index[at.UTC().Format(time.DateOnly)]; ok {
			points[i].Created++
		}
	}
	for _, at := range resolved {
		if i, ok := index[at.UTC().Format(time.DateOnly)]; ok {
			points[i].Resolved++
		}
	}

	var langRows []labelCount
	err := s.tickets(ctx).
		Select("language AS label, COUNT(*) AS total").
		Where("created_at >= ? AND language <> ''", from).
		Group("language").
		Scan(&langRows).Error
	if err != nil {
		return nil, errors.Wrap(err, "language trend")
	}
	byLang := make(map[string]int64, len(langRows))
	for _, r := range langRows {
		byLang[r.Label] = r.Total
	}

	return &Trends{Days: days, From: from, To: now, Daily: points, ByLanguage: byLang}, nil
}

func percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return round2(float64(part) / float64(whole) * 100)
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
