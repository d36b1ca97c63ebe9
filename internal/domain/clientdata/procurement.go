package clientdata

import "strings"

// ProcurementSlug identifies the generic procurement request form
const ProcurementSlug = "procurement"

const maxCostPerUnit = 3000

// Procurement is a single-product purchase request
type Procurement struct {
	Office                    string  `json:"office,omitempty"`
	Justification             string  `json:"justification,omitempty"`
	LinkToProduct             string  `json:"link_to_product,omitempty"`
	Quantity                  int     `json:"quantity"`
	DateRequested             string  `json:"date_requested,omitempty"`
	Urgency                   string  `json:"urgency,omitempty"`
	AdditionalInfo            string  `json:"additional_info,omitempty"`
	CostPerUnit               float64 `json:"cost_per_unit"`
	ProductNameAndDescription string  `json:"product_name_and_description"`
	Recurring                 bool    `json:"recurring"`
	RecurringInterval         string  `json:"recurring_interval,omitempty"`
	RecurringLength           int     `json:"recurring_length,omitempty"`
	Origin                    string  `json:"origin,omitempty"`
}

// ClientSlug implements ClientData
func (p *Procurement) ClientSlug() string { return ProcurementSlug }

// DisplayName implements ClientData
func (p *Procurement) DisplayName() string { return p.ProductNameAndDescription }

// TotalPrice implements ClientData
func (p *Procurement) TotalPrice() float64 {
	return p.CostPerUnit * float64(p.Quantity)
}

// Validate implements ClientData
func (p *Procurement) Validate() error {
	v := &ValidationError{}
	if p.CostPerUnit < 0 || p.CostPerUnit > maxCostPerUnit {
		v.Add("cost_per_unit", "must be between 0 and 3000")
	}
	if p.Quantity < 1 {
		v.Add("quantity", "must be at least 1")
	}
	if strings.TrimSpace(p.ProductNameAndDescription) == "" {
		v.Add("product_name_and_description", "is required")
	}
	if p.Recurring {
		if p.RecurringInterval == "" {
			v.Add("recurring_interval", "is required for recurring purchases")
		}
		if p.RecurringLength < 0 {
			v.Add("recurring_length", "must not be negative")
		}
	}
	return v.OrNil()
}

// RequiresReview reports whether the edit touches what approvers signed off on:
// the product, how many, how much, or the recurrence.
func (p *Procurement) RequiresReview(previous ClientData) bool {
	prev, ok := previous.(*Procurement)
	if !ok || prev == nil {
		return false
	}
	if p.ProductNameAndDescription != prev.ProductNameAndDescription ||
		p.Quantity != prev.Quantity ||
		p.CostPerUnit != prev.CostPerUnit ||
		p.Recurring != prev.Recurring {
		return true
	}
	if p.Recurring {
		return p.RecurringInterval != prev.RecurringInterval || p.RecurringLength != prev.RecurringLength
	}
	return false
}
