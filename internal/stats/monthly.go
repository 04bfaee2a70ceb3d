// Package stats derives read-side summaries from ledger entries and caches
// them per account.
package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/expense-ledger/internal/ledger"
)

// WindowMonths is the length of the trailing monthly window.
const WindowMonths = 12

// MonthlySummary holds credit and debit totals for the months of the window
// that saw activity, oldest first.
type MonthlySummary struct {
	Labels  []string          `json:"labels"`
	Months  []string          `json:"months"`
	Credits []decimal.Decimal `json:"credits"`
	Debits  []decimal.Decimal `json:"debits"`
}

type bucket struct {
	year   int
	month  time.Month
	credit decimal.Decimal
	debit  decimal.Decimal
}

// WindowStart returns the first day of the oldest month in the window ending at now.
func WindowStart(now time.Time) ledger.Date {
	return ledger.NewDate(now.Year(), now.Month()-(WindowMonths-1), 1)
}

// Monthly buckets entries into the trailing window ending at now's month.
// Credits and assigns count as credit. Months with no activity are dropped.
func Monthly(entries []ledger.Entry, now time.Time) MonthlySummary {
	start := WindowStart(now)
	buckets := make([]bucket, WindowMonths)
	for i := range buckets {
		d := ledger.NewDate(start.Year(), start.Month()+time.Month(i), 1)
		buckets[i] = bucket{year: d.Year(), month: d.Month(), credit: decimal.Zero, debit: decimal.Zero}
	}

	for _, e := range entries {
		i := (e.OccurredAt.Year()-start.Year())*12 + int(e.OccurredAt.Month()-start.Month())
		if i < 0 || i >= WindowMonths {
			continue
		}
		if e.Kind.IsIncome() {
			buckets[i].credit = buckets[i].credit.Add(e.Amount)
		} else {
			buckets[i].debit = buckets[i].debit.Add(e.Amount)
		}
	}

	out := MonthlySummary{
		Labels:  []string{},
		Months:  []string{},
		Credits: []decimal.Decimal{},
		Debits:  []decimal.Decimal{},
	}
	for _, b := range buckets {
		if b.credit.IsZero() && b.debit.IsZero() {
			continue
		}
		out.Labels = append(out.Labels, b.month.String()[:3])
		out.Months = append(out.Months, time.Date(b.year, b.month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01"))
		out.Credits = append(out.Credits, b.credit)
		out.Debits = append(out.Debits, b.debit)
	}
	return out
}
