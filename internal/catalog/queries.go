package catalog

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

var builtinQueries = []Descriptor{
	{
		Name:        "overdue_payments",
		Description: "Pending or overdue payments past their due date, with the student's contact data",
		run:         overduePayments,
	},
	{
		Name:        "inactive_students",
		Description: "Active students without a check-in in the last N days (param: days, default 30)",
		run:         inactiveStudents,
	},
	{
		Name:        "attendance_rate",
		Description: "Attendance totals and rate over the last N days (param: days, default 30)",
		run:         attendanceRate,
	},
	{
		Name:        "popular_plans",
		Description: "Plans ranked by active subscriptions (param: limit, default 10)",
		run:         popularPlans,
	},
	{
		Name:        "unconverted_leads",
		Description: "Open leads older than N days (param: days, default 7)",
		run:         unconvertedLeads,
	},
	{
		Name:        "new_students",
		Description: "Students registered in the last N days (param: days, default 30)",
		run:         newStudents,
	},
}

func daysBefore(now time.Time, days int) time.Time {
	if days < 0 {
		days = 0
	}
	return now.AddDate(0, 0, -days)
}

func overduePayments(ctx context.Context, t Tenant, _ Params) (any, error) {
	payments, err := t.FindMany(ctx, "Payment", repository.FindQuery{
		Where: models.Where{
			"status":  map[string]any{"in": []any{"PENDING", "OVERDUE"}},
			"dueDate": map[string]any{"lt": t.Now()},
		},
		OrderBy: []models.SortField{{Field: "dueDate"}},
		Take:    resultCap,
	})
	if err != nil {
		return nil, err
	}

	var studentIDs []any
	seen := make(map[any]struct{})
	for _, p := range payments {
		id := p["studentId"]
		if id == nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		studentIDs = append(studentIDs, id)
	}

	students := map[any]models.Record{}
	if len(studentIDs) > 0 {
		rows, err := t.FindMany(ctx, "Student", repository.FindQuery{
			Where:  models.Where{"id": map[string]any{"in": studentIDs}},
			Select: []string{"id", "name", "email", "phone"},
			Take:   resultCap,
		})
		if err != nil {
			return nil, err
		}
		for _, s := range rows {
			students[s["id"]] = models.Record{"name": s["name"], "email": s["email"], "phone": s["phone"]}
		}
	}

	for _, p := range payments {
		if s, ok := students[p["studentId"]]; ok {
			p["student"] = s
		}
		if due, ok := p["dueDate"].(time.Time); ok {
			p["daysOverdue"] = int(t.Now().Sub(due).Hours() / 24)
		}
	}
	return payments, nil
}

func inactiveStudents(ctx context.Context, t Tenant, p Params) (any, error) {
	cutoff := daysBefore(t.Now(), p.Int("days", 30))
	return t.FindMany(ctx, "Student", repository.FindQuery{
		Where: models.Where{
			"isActive": true,
			"OR": []models.Where{
				{"lastCheckInAt": nil},
				{"lastCheckInAt": map[string]any{"lt": cutoff}},
			},
		},
		Select:  []string{"id", "name", "email", "phone", "lastCheckInAt"},
		OrderBy: []models.SortField{{Field: "lastCheckInAt"}},
		Take:    resultCap,
	})
}

func attendanceRate(ctx context.Context, t Tenant, p Params) (any, error) {
	days := p.Int("days", 30)
	since := models.Where{"date": map[string]any{"gte": daysBefore(t.Now(), days)}}

	total, err := t.Count(ctx, "Attendance", since)
	if err != nil {
		return nil, err
	}
	active, err := t.Count(ctx, "Student", models.Where{"isActive": true})
	if err != nil {
		return nil, err
	}
	attended, err := t.FindMany(ctx, "Attendance", repository.FindQuery{
		Where:    since,
		Select:   []string{"studentId"},
		Distinct: true,
		Take:     scanCap,
	})
	if err != nil {
		return nil, err
	}

	rate, perStudent := 0.0, 0.0
	if active > 0 {
		rate = round2(float64(len(attended)) / float64(active) * 100)
	}
	if len(attended) > 0 {
		perStudent = round2(float64(total) / float64(len(attended)))
	}
	return map[string]any{
		"periodDays":        days,
		"totalAttendances":  total,
		"activeStudents":    active,
		"studentsAttended":  len(attended),
		"attendanceRate":    rate,
		"averagePerStudent": perStudent,
		"truncated":         len(attended) >= scanCap,
	}, nil
}

func popularPlans(ctx context.Context, t Tenant, p Params) (any, error) {
	limit := p.Int("limit", 10)
	if limit <= 0 || limit > resultCap {
		limit = resultCap
	}
	plans, err := t.FindMany(ctx, "Plan", repository.FindQuery{
		Select: []string{"id", "name", "price"},
		Take:   resultCap,
	})
	if err != nil {
		return nil, err
	}
	for _, plan := range plans {
		n, err := t.Count(ctx, "Subscription", models.Where{"planId": plan["id"], "status": "ACTIVE"})
		if err != nil {
			return nil, err
		}
		plan["activeSubscriptions"] = n
	}
	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i]["activeSubscriptions"].(int64) > plans[j]["activeSubscriptions"].(int64)
	})
	if len(plans) > limit {
		plans = plans[:limit]
	}
	return plans, nil
}

func unconvertedLeads(ctx context.Context, t Tenant, p Params) (any, error) {
	cutoff := daysBefore(t.Now(), p.Int("days", 7))
	return t.FindMany(ctx, "Lead", repository.FindQuery{
		Where: models.Where{
			"status":    map[string]any{"notIn": []any{"CONVERTED", "LOST"}},
			"createdAt": map[string]any{"lt": cutoff},
		},
		Select:  []string{"id", "name", "email", "phone", "source", "status", "createdAt"},
		OrderBy: []models.SortField{{Field: "createdAt"}},
		Take:    resultCap,
	})
}

func newStudents(ctx context.Context, t Tenant, p Params) (any, error) {
	cutoff := daysBefore(t.Now(), p.Int("days", 30))
	return t.FindMany(ctx, "Student", repository.FindQuery{
		Where:   models.Where{"createdAt": map[string]any{"gte": cutoff}},
		Select:  []string{"id", "name", "email", "phone", "createdAt"},
		OrderBy: []models.SortField{{Field: "createdAt", Direction: "desc"}},
		Take:    resultCap,
	})
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
