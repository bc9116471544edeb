package report

import (
	"bytes"
	"fmt"

	"github.com/drummonds/freightdesk/normalize"
)

// ProfitLossKeys names the record fields a profit-and-loss report reads.
type ProfitLossKeys struct {
	JobNo    string `json:"jobNo"`
	Customer string `json:"customer"`
	Revenue  string `json:"revenue"`
	Cost     string `json:"cost"`
}

// DefaultProfitLossKeys matches the job P&L endpoint of the logistics API.
var DefaultProfitLossKeys = ProfitLossKeys{
	JobNo:    "jobNo",
	Customer: "customerName",
	Revenue:  "totalRevenue",
	Cost:     "totalCost",
}

// ProfitLossLine is one job's revenue against cost.
type ProfitLossLine struct {
	JobNo    string  `json:"jobNo"`
	Customer string  `json:"customer"`
	Revenue  float64 `json:"revenue"`
	Cost     float64 `json:"cost"`
	Profit   float64 `json:"profit"`
	Margin   float64 `json:"margin"` // percent of revenue
}

// ProfitLoss is a per-job profit and loss statement with totals.
type ProfitLoss struct {
	Header
	Lines  []ProfitLossLine `json:"lines"`
	Totals ProfitLossLine   `json:"totals"`
}

// NewProfitLoss builds the statement from normalized records. Missing or
// non-numeric amounts count as zero.
func NewProfitLoss(h Header, records []normalize.Record, keys ProfitLossKeys) ProfitLoss {
	keys = keys.withDefaults()
	pl := ProfitLoss{Header: h, Lines: make([]ProfitLossLine, 0, len(records))}
	for _, r := range records {
		line := ProfitLossLine{
			JobNo:    fieldText(r, keys.JobNo),
			Customer: fieldText(r, keys.Customer),
		}
		line.Revenue, _ = normalize.Number(r, keys.Revenue)
		line.Cost, _ = normalize.Number(r, keys.Cost)
		line.settle()
		pl.Lines = append(pl.Lines, line)

		pl.Totals.Revenue += line.Revenue
		pl.Totals.Cost += line.Cost
	}
	pl.Totals.settle()
	return pl
}

func (l *ProfitLossLine) settle() {
	l.Profit = l.Revenue - l.Cost
	if l.Revenue != 0 {
		l.Margin = l.Profit / l.Revenue * 100
	} else {
		l.Margin = 0
	}
}

func (k ProfitLossKeys) withDefaults() ProfitLossKeys {
	if k.JobNo == "" {
		k.JobNo = DefaultProfitLossKeys.JobNo
	}
	if k.Customer == "" {
		k.Customer = DefaultProfitLossKeys.Customer
	}
	if k.Revenue == "" {
		k.Revenue = DefaultProfitLossKeys.Revenue
	}
	if k.Cost == "" {
		k.Cost = DefaultProfitLossKeys.Cost
	}
	return k
}

// Render produces the HTML document for the statement.
func (p ProfitLoss) Render() (string, error) {
	p.Header = p.Header.withDefaults()
	var buf bytes.Buffer
	if err := profitLossTemplate.ExecuteTemplate(&buf, "base", p); err != nil {
		return "", fmt.Errorf("rendering profit and loss report: %w", err)
	}
	return buf.String(), nil
}

func fieldText(r normalize.Record, key string) string {
	v, ok := normalize.Field(r, key)
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}
