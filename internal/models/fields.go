package models

import "strings"

// FieldKind distinguishes text columns from nullable numeric columns
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldNumeric
)

// FieldSpec describes one canonical column: its snake_case name, the
// human-readable header it carries in the source spreadsheets, and its kind.
// This registry is the single source of truth for the label mapping; the
// loader and the comparator both consume it, so they can never disagree on
// field semantics.
type FieldSpec struct {
	Name  string
	Label string
	Kind  FieldKind
}

// Registry lists every canonical column in source order. Date, region and
// fund_code form the primary key; region is injected per run and has no
// source column.
var Registry = []FieldSpec{
	{Name: "date", Label: "Date", Kind: FieldText},
	{Name: "fund_code", Label: "Fund Code", Kind: FieldText},
	{Name: "fund_name", Label: "Fund Name", Kind: FieldText},
	{Name: "master_class_fund_name", Label: "Master Class Fund Name", Kind: FieldText},
	{Name: "rating", Label: "Rating (M/S&P/F)", Kind: FieldText},
	{Name: "unique_identifier", Label: "Unique Identifier", Kind: FieldText},
	{Name: "nasdaq", Label: "NASDAQ", Kind: FieldText},
	{Name: "fund_complex", Label: "Fund Complex (Historical)", Kind: FieldText},
	{Name: "subcategory", Label: "SubCategory Historical", Kind: FieldText},
	{Name: "domicile", Label: "Domicile", Kind: FieldText},
	{Name: "currency", Label: "Currency", Kind: FieldText},
	{Name: "share_class_assets", Label: "Share Class Assets (dly/$mils)", Kind: FieldNumeric},
	{Name: "portfolio_assets", Label: "Portfolio Assets (dly/$mils)", Kind: FieldNumeric},
	{Name: "one_day_yield", Label: "1-DSY (dly)", Kind: FieldNumeric},
	{Name: "one_day_gross_yield", Label: "1-GDSY (dly)", Kind: FieldNumeric},
	{Name: "seven_day_yield", Label: "7-DSY (dly)", Kind: FieldNumeric},
	{Name: "seven_day_gross_yield", Label: "7-GDSY (dly)", Kind: FieldNumeric},
	{Name: "expense_ratio", Label: "Chgd Expense Ratio (mo/dly)", Kind: FieldNumeric},
	{Name: "wam", Label: "WAM (dly)", Kind: FieldNumeric},
	{Name: "wal", Label: "WAL (dly)", Kind: FieldNumeric},
	{Name: "transactional_nav", Label: "Transactional NAV", Kind: FieldText},
	{Name: "market_nav", Label: "Market NAV", Kind: FieldText},
	{Name: "daily_liquidity", Label: "Daily Liquidity (%)", Kind: FieldNumeric},
	{Name: "weekly_liquidity", Label: "Weekly Liquidity (%)", Kind: FieldNumeric},
	{Name: "fees", Label: "Fees", Kind: FieldText},
	{Name: "gates", Label: "Gates", Kind: FieldText},
}

var (
	byName  = make(map[string]FieldSpec, len(Registry))
	byLabel = make(map[string]FieldSpec, len(Registry))
)

func init() {
	for _, spec := range Registry {
		byName[spec.Name] = spec
		byLabel[strings.ToLower(spec.Label)] = spec
	}
}

// FieldByName looks up a field spec by canonical name
func FieldByName(name string) (FieldSpec, bool) {
	spec, ok := byName[name]
	return spec, ok
}

// FieldByLabel looks up a field spec by source column header,
// case-insensitively and ignoring surrounding whitespace.
func FieldByLabel(label string) (FieldSpec, bool) {
	spec, ok := byLabel[strings.ToLower(strings.TrimSpace(label))]
	return spec, ok
}

// NumericFieldNames returns the canonical names of all numeric columns, in
// registry order.
func NumericFieldNames() []string {
	names := make([]string, 0, len(Registry))
	for _, spec := range Registry {
		if spec.Kind == FieldNumeric {
			names = append(names, spec.Name)
		}
	}
	return names
}

// DefaultMonitoredFields is the subset of numeric fields subject to change
// detection unless overridden by configuration: the two AUM tiers and the
// two net yield figures.
func DefaultMonitoredFields() []string {
	return []string{"share_class_assets", "portfolio_assets", "one_day_yield", "seven_day_yield"}
}

// NumericField returns a pointer to the named numeric field's value, or
// (nil, false) when the name is not a numeric column. A nil value with
// ok=true means the field is null.
func (r *FundRecord) NumericField(name string) (*float64, bool) {
	switch name {
	case "share_class_assets":
		return r.ShareClassAssets, true
	case "portfolio_assets":
		return r.PortfolioAssets, true
	case "one_day_yield":
		return r.OneDayYield, true
	case "one_day_gross_yield":
		return r.OneDayGrossYield, true
	case "seven_day_yield":
		return r.SevenDayYield, true
	case "seven_day_gross_yield":
		return r.SevenDayGrossYield, true
	case "expense_ratio":
		return r.ExpenseRatio, true
	case "wam":
		return r.WAM, true
	case "wal":
		return r.WAL, true
	case "daily_liquidity":
		return r.DailyLiquidity, true
	case "weekly_liquidity":
		return r.WeeklyLiquidity, true
	default:
		return nil, false
	}
}

// SetNumericField assigns the named numeric field. Returns false when the
// name is not a numeric column.
func (r *FundRecord) SetNumericField(name string, value *float64) bool {
	switch name {
	case "share_class_assets":
		r.ShareClassAssets = value
	case "portfolio_assets":
		r.PortfolioAssets = value
	case "one_day_yield":
		r.OneDayYield = value
	case "one_day_gross_yield":
		r.OneDayGrossYield = value
	case "seven_day_yield":
		r.SevenDayYield = value
	case "seven_day_gross_yield":
		r.SevenDayGrossYield = value
	case "expense_ratio":
		r.ExpenseRatio = value
	case "wam":
		r.WAM = value
	case "wal":
		r.WAL = value
	case "daily_liquidity":
		r.DailyLiquidity = value
	case "weekly_liquidity":
		r.WeeklyLiquidity = value
	default:
		return false
	}
	return true
}

// TextField returns the named text field's value. Returns false when the
// name is not a text column (date and region are handled separately).
func (r *FundRecord) TextField(name string) (string, bool) {
	switch name {
	case "fund_code":
		return r.FundCode, true
	case "fund_name":
		return r.FundName, true
	case "master_class_fund_name":
		return r.MasterClassFundName, true
	case "rating":
		return r.Rating, true
	case "unique_identifier":
		return r.UniqueIdentifier, true
	case "nasdaq":
		return r.NASDAQ, true
	case "fund_complex":
		return r.FundComplex, true
	case "subcategory":
		return r.Subcategory, true
	case "domicile":
		return r.Domicile, true
	case "currency":
		return r.Currency, true
	case "transactional_nav":
		return r.TransactionalNAV, true
	case "market_nav":
		return r.MarketNAV, true
	case "fees":
		return r.Fees, true
	case "gates":
		return r.Gates, true
	default:
		return "", false
	}
}

// SetTextField assigns the named text field. Returns false when the name is
// not a text column.
func (r *FundRecord) SetTextField(name, value string) bool {
	switch name {
	case "fund_code":
		r.FundCode = value
	case "fund_name":
		r.FundName = value
	case "master_class_fund_name":
		r.MasterClassFundName = value
	case "rating":
		r.Rating = value
	case "unique_identifier":
		r.UniqueIdentifier = value
	case "nasdaq":
		r.NASDAQ = value
	case "fund_complex":
		r.FundComplex = value
	case "subcategory":
		r.Subcategory = value
	case "domicile":
		r.Domicile = value
	case "currency":
		r.Currency = value
	case "transactional_nav":
		r.TransactionalNAV = value
	case "market_nav":
		r.MarketNAV = value
	case "fees":
		r.Fees = value
	case "gates":
		r.Gates = value
	default:
		return false
	}
	return true
}
