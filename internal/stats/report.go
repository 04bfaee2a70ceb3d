package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/expense-ledger/internal/ledger"
)

// Period selects the window of a summary report.
type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
	PeriodCustom  Period = "custom"
)

// ParsePeriod accepts the period names case-insensitively. Empty means monthly.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodMonthly, nil
	case PeriodWeekly, PeriodMonthly, PeriodYearly, PeriodCustom:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown period %q", ledger.ErrValidation, s)
	}
}

// ResolvePeriod returns the inclusive date range a period covers, ending today.
// Custom periods take from and to as given; to defaults to today.
func ResolvePeriod(p Period, from, to ledger.Date, now time.Time) (ledger.Date, ledger.Date, error) {
	today := ledger.DateOf(now)
	switch p {
	case PeriodWeekly:
		return today.AddDays(-7), today, nil
	case PeriodMonthly:
		return ledger.NewDate(today.Year(), today.Month()-1, today.Day()), today, nil
	case PeriodYearly:
		return ledger.NewDate(today.Year()-1, today.Month(), today.Day()), today, nil
	case PeriodCustom:
		if from.IsZero() {
			return ledger.Date{}, ledger.Date{}, fmt.Errorf("%w: custom period requires a start date", ledger.ErrValidation)
		}
		if to.IsZero() {
			to = today
		}
		if from.After(to) {
			return ledger.Date{}, ledger.Date{}, fmt.Errorf("%w: start date must be before end date", ledger.ErrValidation)
		}
		return from, to, nil
	default:
		return ledger.Date{}, ledger.Date{}, fmt.Errorf("%w: unknown period %q", ledger.ErrValidation, p)
	}
}

// CategoryTotal is the debit total of one category.
type CategoryTotal struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// Report summarizes an account's activity over a date range.
type Report struct {
	Period     Period          `json:"period"`
	From       ledger.Date     `json:"from"`
	To         ledger.Date     `json:"to"`
	Income     decimal.Decimal `json:"income"`
	Expense    decimal.Decimal `json:"expense"`
	Savings    decimal.Decimal `json:"savings"`
	Categories []CategoryTotal `json:"categories"`
	Count      int             `json:"count"`
}

// BuildReport aggregates entries, which must already be limited to the range.
// Categories are ordered by amount, largest first.
func BuildReport(p Period, from, to ledger.Date, entries []ledger.Entry) Report {
	r := Report{
		Period:     p,
		From:       from,
		To:         to,
		Income:     decimal.Zero,
		Expense:    decimal.Zero,
		Categories: []CategoryTotal{},
		Count:      len(entries),
	}

	byCategory := make(map[string]decimal.Decimal)
	for _, e := range entries {
		if e.Kind.IsIncome() {
			r.Income = r.Income.Add(e.Amount)
			continue
		}
		r.Expense = r.Expense.Add(e.Amount)
		byCategory[e.Category] = byCategory[e.Category].Add(e.Amount)
	}
	r.Savings = r.Income.Sub(r.Expense)

	for cat, amount := range byCategory {
		r.Categories = append(r.Categories, CategoryTotal{Category: cat, Amount: amount})
	}
	sort.Slice(r.Categories, func(i, j int) bool {
		if c := r.Categories[i].Amount.Cmp(r.Categories[j].Amount); c != 0 {
			return c > 0
		}
		return r.Categories[i].Category < r.Categories[j].Category
	})
	return r
}
