package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spec-kit/hiccup-service/internal/access"
	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/repository"
)

const (
	digestWindow     = 24 * time.Hour
	trendWindowDays  = 7
	trendMinimum     = 3
	digestSampleSize = 5
)

// ReportService builds aggregate reports for supervisors.
type ReportService struct {
	cases    repository.CaseRepository
	location *time.Location
}

// NewReportService constructs the service.
func NewReportService(cases repository.CaseRepository, location *time.Location) *ReportService {
	if location == nil {
		location = time.UTC
	}
	return &ReportService{cases: cases, location: location}
}

// UnitCount is the number of cases raised from one unit.
type UnitCount struct {
	Unit  string `json:"unit"`
	Count int    `json:"count"`
}

// DigestSample is a short line about one case.
type DigestSample struct {
	CaseID    string            `json:"case_id"`
	RaisedBy  string            `json:"raised_by"`
	Target    string            `json:"target"`
	ShortDesc string            `json:"short_desc"`
	Status    domain.CaseStatus `json:"status"`
}

// Digest summarizes the last 24 hours.
type Digest struct {
	Date      time.Time      `json:"date"`
	Raised    int            `json:"raised"`
	Responded int            `json:"responded"`
	Closed    int            `json:"closed"`
	Escalated int            `json:"escalated"`
	ByUnit    []UnitCount    `json:"by_unit"`
	Samples   []DigestSample `json:"samples"`
}

// KindCount is the number of cases of one kind.
type KindCount struct {
	Kind  domain.CaseKind `json:"type"`
	Count int             `json:"count"`
}

// RootCauseCount is the number of cases assigned one root-cause category.
type RootCauseCount struct {
	Category domain.RootCauseCategory `json:"root_cause_category"`
	Count    int                      `json:"count"`
}

// MonthlyDigest summarizes one calendar month.
type MonthlyDigest struct {
	Month       string           `json:"month"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Total       int              `json:"total"`
	Responded   int              `json:"responded"`
	Closed      int              `json:"closed"`
	Escalated   int              `json:"escalated"`
	ByType      []KindCount      `json:"by_type"`
	ByUnit      []UnitCount      `json:"by_unit"`
	ByRootCause []RootCauseCount `json:"by_root_cause"`
}

// Trend is a recurring pattern over the trend window.
type Trend struct {
	Dimension  string `json:"dimension"`
	Key        string `json:"key"`
	Count      int    `json:"count"`
	WindowDays int    `json:"window_days"`
}

// DailyDigest counts activity in the 24 hours before now.
func (r *ReportService) DailyDigest(ctx context.Context, now time.Time) (*Digest, error) {
	since := now.Add(-digestWindow)
	counts, err := r.activity(ctx, since, now)
	if err != nil {
		return nil, err
	}
	created, err := r.createdBetween(ctx, since, now)
	if err != nil {
		return nil, err
	}

	digest := &Digest{
		Date:      now.In(r.location),
		Raised:    counts.raised,
		Responded: counts.responded,
		Closed:    counts.closed,
		Escalated: counts.escalated,
		ByUnit:    countByUnit(created),
		Samples:   []DigestSample{},
	}
	for _, c := range created {
		if len(digest.Samples) == digestSampleSize {
			break
		}
		digest.Samples = append(digest.Samples, DigestSample{
			CaseID:    c.ID,
			RaisedBy:  c.CreatorName,
			Target:    c.Target,
			ShortDesc: shorten(c.Description, 80),
			Status:    c.Status,
		})
	}
	return digest, nil
}

// MonthlyDigest summarizes the calendar month containing now, in the
// service's local time, up to now.
func (r *ReportService) MonthlyDigest(ctx context.Context, now time.Time) (*MonthlyDigest, error) {
	local := now.In(r.location)
	from := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, r.location)
	counts, err := r.activity(ctx, from, now)
	if err != nil {
		return nil, err
	}
	created, err := r.createdBetween(ctx, from, now)
	if err != nil {
		return nil, err
	}

	kinds := map[string]int{}
	causes := map[string]int{}
	for _, c := range created {
		kinds[string(c.Kind)]++
		if c.RootCauseCategory != nil {
			causes[string(*c.RootCauseCategory)]++
		}
	}
	byType := []KindCount{}
	for _, row := range sortedCounts(kinds) {
		byType = append(byType, KindCount{Kind: domain.CaseKind(row.key), Count: row.count})
	}
	byCause := []RootCauseCount{}
	for _, row := range sortedCounts(causes) {
		byCause = append(byCause, RootCauseCount{Category: domain.RootCauseCategory(row.key), Count: row.count})
	}

	return &MonthlyDigest{
		Month:       from.Format("2006-01"),
		From:        from,
		To:          local,
		Total:       len(created),
		Responded:   counts.responded,
		Closed:      counts.closed,
		Escalated:   counts.escalated,
		ByType:      byType,
		ByUnit:      countByUnit(created),
		ByRootCause: byCause,
	}, nil
}

type activityCounts struct {
	raised, responded, closed, escalated int
}

// activity counts cases per lifecycle event in [from, to]. A case answered
// or re-answered several times counts once per bucket.
func (r *ReportService) activity(ctx context.Context, from, to time.Time) (activityCounts, error) {
	entries, err := r.cases.ListAuditSince(ctx, from)
	if err != nil {
		return activityCounts{}, err
	}
	buckets := map[string]map[string]struct{}{}
	mark := func(bucket, caseID string) {
		if buckets[bucket] == nil {
			buckets[bucket] = map[string]struct{}{}
		}
		buckets[bucket][caseID] = struct{}{}
	}
	for _, entry := range entries {
		if entry.CreatedAt.After(to) {
			continue
		}
		switch entry.Action {
		case domain.AuditCreated:
			mark("raised", entry.CaseID)
		case domain.AuditResponded:
			mark("responded", entry.CaseID)
		case domain.AuditStatusChanged:
			if entry.Remarks == nil {
				continue
			}
			switch domain.CaseStatus(*entry.Remarks) {
			case domain.CaseStatusClosed:
				mark("closed", entry.CaseID)
			case domain.CaseStatusEscalated:
				mark("escalated", entry.CaseID)
			}
		}
	}
	return activityCounts{
		raised:    len(buckets["raised"]),
		responded: len(buckets["responded"]),
		closed:    len(buckets["closed"]),
		escalated: len(buckets["escalated"]),
	}, nil
}

func (r *ReportService) createdBetween(ctx context.Context, from, to time.Time) ([]domain.Case, error) {
	return r.cases.List(ctx, repository.CaseFilter{
		Scope:       access.Scope{Kind: access.ScopeAll},
		CreatedFrom: &from,
		CreatedTo:   &to,
	})
}

func countByUnit(cases []domain.Case) []UnitCount {
	units := map[string]int{}
	for _, c := range cases {
		units[c.CreatorUnit]++
	}
	out := []UnitCount{}
	for _, row := range sortedCounts(units) {
		out = append(out, UnitCount{Unit: row.key, Count: row.count})
	}
	return out
}

type keyCount struct {
	key   string
	count int
}

// sortedCounts orders by count descending, then key.
func sortedCounts(counts map[string]int) []keyCount {
	out := make([]keyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, keyCount{key: k, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

// Trends reports source modules and root-cause categories that recur at
// least three times in the seven days before now.
func (r *ReportService) Trends(ctx context.Context, now time.Time) ([]Trend, error) {
	since := now.AddDate(0, 0, -trendWindowDays)
	cases, err := r.cases.List(ctx, repository.CaseFilter{
		Scope:       access.Scope{Kind: access.ScopeAll},
		CreatedFrom: &since,
		CreatedTo:   &now,
	})
	if err != nil {
		return nil, err
	}

	type groupKey struct{ dimension, key string }
	counts := map[groupKey]int{}
	for _, c := range cases {
		if c.SourceModule != nil {
			counts[groupKey{"source_module", *c.SourceModule}]++
		}
		if c.RootCauseCategory != nil {
			counts[groupKey{"root_cause_category", string(*c.RootCauseCategory)}]++
		}
	}

	trends := []Trend{}
	for k, n := range counts {
		if n >= trendMinimum {
			trends = append(trends, Trend{Dimension: k.dimension, Key: k.key, Count: n, WindowDays: trendWindowDays})
		}
	}
	sort.Slice(trends, func(i, j int) bool {
		if trends[i].Count != trends[j].Count {
			return trends[i].Count > trends[j].Count
		}
		if trends[i].Dimension != trends[j].Dimension {
			return trends[i].Dimension < trends[j].Dimension
		}
		return trends[i].Key < trends[j].Key
	})
	return trends, nil
}

// FormatDigest renders the digest as a chat message.
func FormatDigest(d *Digest) string {
	lines := []string{
		fmt.Sprintf("📊 Daily Hiccup Summary – %s", d.Date.Format("2006-01-02")),
		fmt.Sprintf("Raised: %d", d.Raised),
		fmt.Sprintf("Responded: %d", d.Responded),
		fmt.Sprintf("Closed: %d", d.Closed),
		fmt.Sprintf("Escalated to NC: %d", d.Escalated),
		"",
		"By Unit:",
	}
	for _, row := range d.ByUnit {
		lines = append(lines, fmt.Sprintf("%s: %d", row.Unit, row.Count))
	}
	if len(d.Samples) > 0 {
		lines = append(lines, "", "Sample Hiccups:")
		for _, sample := range d.Samples {
			lines = append(lines,
				fmt.Sprintf("#%s – %s → %s", sample.CaseID, sample.RaisedBy, sample.Target),
				"Desc: "+sample.ShortDesc,
				"Status: "+string(sample.Status),
				"",
			)
		}
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
