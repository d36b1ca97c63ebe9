package clientdata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProcurement() *Procurement {
	return &Procurement{
		Office:                    "DC",
		Quantity:                  2,
		CostPerUnit:               150.5,
		ProductNameAndDescription: "Standing desk",
	}
}

func TestProcurement_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Procurement)
		fields []string
	}{
		{"valid", func(p *Procurement) {}, nil},
		{"zero cost allowed", func(p *Procurement) { p.CostPerUnit = 0 }, nil},
		{"upper bound allowed", func(p *Procurement) { p.CostPerUnit = 3000 }, nil},
		{"cost too high", func(p *Procurement) { p.CostPerUnit = 3000.01 }, []string{"cost_per_unit"}},
		{"negative cost", func(p *Procurement) { p.CostPerUnit = -1 }, []string{"cost_per_unit"}},
		{"zero quantity", func(p *Procurement) { p.Quantity = 0 }, []string{"quantity"}},
		{"missing description", func(p *Procurement) { p.ProductNameAndDescription = "" }, []string{"product_name_and_description"}},
		{"blank description", func(p *Procurement) { p.ProductNameAndDescription = " \t " }, []string{"product_name_and_description"}},
		{"recurring without interval", func(p *Procurement) { p.Recurring = true }, []string{"recurring_interval"}},
		{"several fields", func(p *Procurement) { p.Quantity = 0; p.ProductNameAndDescription = "" }, []string{"quantity", "product_name_and_description"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProcurement()
			tt.mutate(p)

			err := p.Validate()
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Len(t, vErr.Fields, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, vErr.Fields, f)
			}
		})
	}
}

func TestProcurement_TotalPrice(t *testing.T) {
	p := validProcurement()
	assert.InDelta(t, 301.0, p.TotalPrice(), 0.0001)
	assert.Equal(t, "Standing desk", p.DisplayName())
	assert.Equal(t, ProcurementSlug, p.ClientSlug())
}

func TestProcurement_RequiresReview(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Procurement)
		want   bool
	}{
		{"no change", func(p *Procurement) {}, false},
		{"office change", func(p *Procurement) { p.Office = "SF" }, false},
		{"justification change", func(p *Procurement) { p.Justification = "ergonomics" }, false},
		{"quantity change", func(p *Procurement) { p.Quantity = 3 }, true},
		{"price change", func(p *Procurement) { p.CostPerUnit = 99 }, true},
		{"product change", func(p *Procurement) { p.ProductNameAndDescription = "Chair" }, true},
		{"now recurring", func(p *Procurement) { p.Recurring = true; p.RecurringInterval = "Monthly" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := validProcurement()
			next := validProcurement()
			tt.mutate(next)
			assert.Equal(t, tt.want, next.RequiresReview(prev))
		})
	}

	assert.False(t, validProcurement().RequiresReview(nil))
}

func TestRegistry_Decode(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{ProcurementSlug}, r.Slugs())

	data, err := r.Decode(ProcurementSlug, []byte(`{"quantity":4,"cost_per_unit":10,"product_name_and_description":"Toner"}`))
	require.NoError(t, err)
	assert.InDelta(t, 40.0, data.TotalPrice(), 0.0001)
	assert.NoError(t, data.Validate())

	_, err = r.Decode("ncr", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownClientType)

	_, err = r.Decode(ProcurementSlug, []byte(`{not json`))
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.Fields, "client_data")
}

func TestRegistry_DecodeReportsMistypedField(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		raw   string
		field string
		msg   string
	}{
		{`{"quantity":"abc","product_name_and_description":"Toner"}`, "quantity", "must be a number"},
		{`{"cost_per_unit":"ten"}`, "cost_per_unit", "must be a number"},
		{`{"recurring":"yes"}`, "recurring", "must be true or false"},
		{`{"product_name_and_description":7}`, "product_name_and_description", "must be text"},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			_, err := r.Decode(ProcurementSlug, []byte(tt.raw))
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, map[string]string{tt.field: tt.msg}, vErr.Fields)
		})
	}
}

func TestRegistry_ExplicitEntries(t *testing.T) {
	r := NewRegistry()
	_, err := r.Decode(ProcurementSlug, nil)
	assert.ErrorIs(t, err, ErrUnknownClientType)
}

func TestEncode(t *testing.T) {
	s, err := Encode(validProcurement())
	require.NoError(t, err)
	assert.Contains(t, s, `"product_name_and_description":"Standing desk"`)
}

func TestValidationError_Error(t *testing.T) {
	v := &ValidationError{}
	assert.NoError(t, v.OrNil())
	v.Add("quantity", "must be at least 1")
	v.Add("cost_per_unit", "must be between 0 and 3000")
	assert.Equal(t, "validation failed: cost_per_unit must be between 0 and 3000; quantity must be at least 1", v.Error())
}
