package features

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/scoregate/internal/compliance"
	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/validation"
)

// Result is a transformed application.
type Result struct {
	Features  domain.FeatureVector `json:"features"`
	Coercions []domain.Coercion    `json:"coercions,omitempty"`
}

// Transformer builds feature vectors. It is stateless apart from its
// policy and safe for concurrent use.
type Transformer struct {
	evaluator *compliance.Evaluator
}

// NewTransformer creates a transformer whose payment estimate and
// compliance flag follow p.
func NewTransformer(p compliance.Policy) *Transformer {
	return &Transformer{evaluator: compliance.NewEvaluator(p)}
}

var segments = map[domain.EmploymentStatus]string{
	domain.EmploymentEmployed:     "Salaried",
	domain.EmploymentSelfEmployed: "Self-Employed",
	domain.EmploymentUnemployed:   "Unemployed",
	domain.EmploymentRetired:      "Retired",
}

// Transform maps app onto every catalog feature. Identical applications
// produce identical vectors. Non-finite numbers are replaced by 0 and
// reported in Coercions.
func (t *Transformer) Transform(app domain.LoanApplication) Result {
	c := &coercer{}
	a := c.sanitize(app)
	computed := t.compute(a)

	fv := make(domain.FeatureVector, len(catalog))
	for _, f := range catalog {
		switch f.Source {
		case SourceSystem, SourceMacro:
			fv[f.Name] = c.system(app.System, f)
		default:
			v, ok := computed[f.Name]
			if !ok {
				v = f.Default
			}
			fv[f.Name] = c.finite(f.Name, v)
		}
	}
	return Result{Features: fv, Coercions: c.coercions}
}

func (t *Transformer) compute(a domain.LoanApplication) map[string]domain.Value {
	num := domain.Number
	flag := domain.Flag
	text := domain.Text

	p := t.evaluator.Policy()
	payment := p.MonthlyPayment(a.LoanAmount, a.LoanTermMonths)
	compliant := t.evaluator.Evaluate(a.LoanAmount, a.MonthlyIncome, a.LoanTermMonths).Compliant

	income := a.MonthlyIncome
	expenses := a.MonthlyExpenses
	incomeFloor := math.Max(income, 1)
	net := income - expenses
	disposable := math.Max(0, income-expenses-a.ExistingLoanPayments-a.OtherMonthlyObligations)
	util := a.CreditUtilizationRatio / 100
	creditLimit := a.TotalDebt / math.Max(0.01, util)
	debtService := a.ExistingLoanPayments + a.TotalDebt*0.1
	fixed := debtService + a.OtherMonthlyObligations
	historyMonths := a.CreditHistoryLengthYears * 12
	late := a.NumberOfLatePayments
	defaults := a.NumberOfDefaults
	savingsRatio := a.SavingsBalance / incomeFloor

	hasCollateral := a.CollateralValue != nil && *a.CollateralValue > 0
	collateral := 0.0
	if a.CollateralValue != nil {
		collateral = *a.CollateralValue
	}
	ltv := 1.0
	collateralType, liquidity := "None", "None"
	if hasCollateral {
		ltv = a.LoanAmount / math.Max(1, collateral)
		collateralType, liquidity = "Property", "High"
	}
	guarantor := a.GuarantorAvailable != nil && *a.GuarantorAvailable

	status := a.EmploymentStatus
	if status == "" {
		status = domain.EmploymentEmployed
	}
	segment, ok := segments[status]
	if !ok {
		segment = "Unknown"
	}

	worst12 := "Current"
	switch {
	case defaults > 0:
		worst12 = "Default"
	case late > 0:
		worst12 = "Late"
	}
	worstLong := "Current"
	if defaults > 0 {
		worstLong = "Default"
	}

	tenure := systemNumber(a.System, "tenure_with_akafay_months")

	return map[string]domain.Value{
		// Loan details
		"loan_amount":               num(a.LoanAmount),
		"loan_term_months":          num(float64(a.LoanTermMonths)),
		"loan_purpose":              text(orDefault(a.LoanPurpose, "Personal")),
		"requested_interest_rate":   num(a.InterestRate * 100),
		"estimated_monthly_payment": num(payment),
		"nbe_compliant_flag":        flag(compliant),

		// Core credit performance
		"credit_history_length_months": num(historyMonths),
		"worst_status_last_12m":        text(worst12),
		"recent_delinquency_flag_90d":  flag(late > 0),
		"credit_utilization_ratio":     num(util),
		"payment_history_score":        num(a.PaymentHistoryScore / 100),
		"number_of_credit_accounts":    num(float64(a.NumberOfCreditAccounts)),
		"number_of_late_payments":      num(float64(late)),
		"number_of_defaults":           num(float64(defaults)),
		"average_account_age_months":   num(historyMonths / math.Max(1, float64(a.NumberOfCreditAccounts))),
		"oldest_account_age_months":    num(historyMonths),
		"new_accounts_last_6m":         num(float64(a.NewAccountsLast6m)),
		"inquiries_last_6m":            num(float64(a.InquiriesLast6m)),
		"inquiries_last_12m":           num(float64(a.InquiriesLast12m)),
		"total_credit_limit":           num(creditLimit),
		"revolving_credit_limit":       num(creditLimit),
		"installment_credit_limit":     num(a.TotalDebt * 0.3),
		"utilization_trend_3m":         num(util),
		"utilization_trend_6m":         num(util),
		"worst_status_last_6m":         text(worstLong),
		"worst_status_last_24m":        text(worstLong),
		"collections_flag":             flag(defaults > 0),
		"charge_off_flag":              flag(defaults > 0),
		"account_status_current":       flag(late == 0),
		"account_status_30_dpd":        flag(late > 0 && late < 3),
		"account_status_60_dpd":        flag(late >= 3 && late < 6),
		"account_status_90_dpd":        flag(late >= 6),
		"account_status_default":       flag(defaults > 0),

		// Affordability and obligations
		"monthly_income_etb":             num(income),
		"monthly_expenses_etb":           num(expenses),
		"net_monthly_income_etb":         num(net),
		"disposable_income":              num(disposable),
		"debt_to_income_ratio":           num(a.TotalDebt / incomeFloor),
		"affordability_ratio":            num(payment / math.Max(disposable, 1)),
		"savings_rate":                   num(clamp(net/incomeFloor, 0, 1)),
		"savings_balance_etb":            num(a.SavingsBalance),
		"checking_balance_etb":           num(a.CheckingBalance),
		"total_liquid_assets_etb":        num(a.SavingsBalance + a.CheckingBalance),
		"total_debt_etb":                 num(a.TotalDebt),
		"existing_loan_payments_etb":     num(a.ExistingLoanPayments),
		"other_monthly_obligations_etb":  num(a.OtherMonthlyObligations),
		"installment_to_income_ratio":    num(payment / incomeFloor),
		"residual_income_etb":            num(net - payment),
		"disposable_income_ratio":        num(net / incomeFloor),
		"savings_ratio":                  num(savingsRatio),
		"expense_to_income_ratio":        num(expenses / incomeFloor),
		"debt_service_coverage_ratio":    num(net / math.Max(1, payment+a.TotalDebt*0.1)),
		"fixed_obligations_etb":          num(fixed),
		"variable_obligations_etb":       num(math.Max(0, expenses-a.TotalDebt*0.1)),
		"total_monthly_obligations_etb":  num(fixed + payment),
		"available_cash_flow_etb":        num(net - payment - fixed),
		"collateral_coverage_ratio":      num(ltv),
		"scheduled_monthly_debt_service": num(debtService),
		"affordability_buffer_ratio":     num((net - payment) / incomeFloor),
		"affordability_stress_pass":      flag(net*0.85 >= payment),
		"cash_buffer_days":               num(a.EmergencyFundMonths * 30),

		// Bank and mobile money
		"bank_avg_balance_3m":                num(a.CheckingBalance),
		"mobile_money_balance":               num(a.MobileMoneyBalance),
		"bank_inflow_3m":                     num(income * 3),
		"bank_outflow_3m":                    num(expenses * 3),
		"net_flow_3m":                        num(net * 3),
		"bank_account_status":                text(pick(a.DirectDeposit, "Active", Unknown)),
		"mobile_money_status":                text(pick(a.MobileMoneyBalance > 0, "Active", Unknown)),
		"salary_inflow_consistency_score":    num(pickNum(a.DirectDeposit, 80, 50)),
		"direct_deposit_flag":                flag(a.DirectDeposit),
		"end_of_month_cash_crunch_indicator": flag(a.CheckingBalance < expenses*0.1),
		"salary_deposit_count_6m":            num(pickNum(a.DirectDeposit, 6, 0)),

		// Identity and fraud
		"source_of_income_verified_flag": flag(income > 0),
		"id_number":                      text(a.IDNumber),
		"phone_number":                   text(a.PhoneNumber),
		"id_number_format_valid_flag":    flag(a.IDNumber != "" && validation.ValidateEthiopianID(a.IDNumber) == nil),
		"phone_number_format_valid_flag": flag(a.PhoneNumber != "" && validation.ValidateEthiopianPhone(a.PhoneNumber) == nil),
		"address_verification_flag":      flag(a.YearsAtCurrentAddress > 0),

		// Personal and professional stability
		"age":                         num(float64(a.Age)),
		"employment_status":           text(string(status)),
		"employment_segment":          text(segment),
		"years_in_profession":         num(a.YearsEmployed),
		"employer_name":               text(a.EmployerName),
		"employment_stability_score":  num(tiered(a.YearsEmployed, 3, 1, 0.8, 0.6, 0.4)),
		"ethiopian_region":            text(orDefault(a.Region, Unknown)),
		"urban_rural":                 text(orDefault(string(a.UrbanOrRural), string(domain.SettlementUrban))),
		"business_sector":             text(a.BusinessSector),
		"location_stability_score":    num(tiered(a.YearsAtCurrentAddress, 2, 1, 80, 60, 40)),
		"years_at_current_address":    num(a.YearsAtCurrentAddress),
		"address_consistency_flag":    flag(a.YearsAtCurrentAddress > 0),
		"employment_consistency_flag": flag(a.YearsEmployed > 1),
		"education_level":             text(orDefault(a.EducationLevel, Unknown)),
		"marital_status":              text(orDefault(a.MaritalStatus, Unknown)),
		"dependents_count":            num(float64(a.Dependents)),
		"guarantor_available_flag":    flag(guarantor),

		// Contextual
		"agricultural_dependency_score": num(pickNum(strings.EqualFold(a.BusinessSector, "Agriculture"), 80, 20)),

		// Product specific intelligence
		"product_type":                      text(orDefault(a.LoanProductType, "PersonalLoan")),
		"loan_to_income_ratio_lti":          num(a.LoanAmount / math.Max(1, income*12)),
		"debt_service_to_income_ratio_dsti": num((a.ExistingLoanPayments + payment) / incomeFloor),
		"collateral_type":                   text(collateralType),
		"collateral_appraised_value_etb":    num(collateral),
		"loan_to_value_ratio_ltv":           num(ltv),
		"collateral_liquidity_tier":         text(liquidity),
		"client_payment_days_late_avg":      num(float64(late * 30)),
		"guarantor_experience_score":        num(pickNum(guarantor, 70, 0)),

		// Business
		"years_in_business": num(a.YearsInBusiness),

		// Behavioral intelligence
		"behavioral_consistency_score":  num(a.PaymentHistoryScore*0.8 + pickNum(a.CreditUtilizationRatio < 30, 20, 0)),
		"microfinance_engagement_score": num(pickNum(tenure > 12, 70, 50)),
		"conscientiousness_score":       num(a.PaymentHistoryScore),
		"savings_behavior_score":        num(tiered(savingsRatio*100, 20, 10, 80, 60, 40)),
		"indicative_risk_level":         text(riskLevel(a.CreditUtilizationRatio, a.PaymentHistoryScore)),
	}
}

func riskLevel(utilization, paymentHistory float64) string {
	switch {
	case utilization < 30 && paymentHistory > 80:
		return "Low"
	case utilization < 60 && paymentHistory > 60:
		return "Medium"
	default:
		return "High"
	}
}

// coercer accumulates coercion records in a deterministic order.
type coercer struct {
	coercions []domain.Coercion
}

func (c *coercer) record(field, raw, reason string) {
	c.coercions = append(c.coercions, domain.Coercion{Field: field, Raw: raw, Reason: reason})
}

func (c *coercer) num(field string, f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		c.record(field, fmt.Sprint(f), "non-finite number replaced with 0")
		return 0
	}
	return f
}

// sanitize returns a copy of app with every non-finite number zeroed.
func (c *coercer) sanitize(app domain.LoanApplication) domain.LoanApplication {
	a := app
	a.YearsAtCurrentAddress = c.num("yearsAtCurrentAddress", a.YearsAtCurrentAddress)
	a.LoanAmount = c.num("loanAmount", a.LoanAmount)
	a.InterestRate = c.num("interestRate", a.InterestRate)
	a.MonthlyIncome = c.num("monthlyIncome", a.MonthlyIncome)
	a.MonthlyExpenses = c.num("monthlyExpenses", a.MonthlyExpenses)
	a.SavingsBalance = c.num("savingsBalance", a.SavingsBalance)
	a.CheckingBalance = c.num("checkingBalance", a.CheckingBalance)
	a.TotalDebt = c.num("totalDebt", a.TotalDebt)
	a.CreditUtilizationRatio = c.num("creditUtilizationRatio", a.CreditUtilizationRatio)
	if a.CollateralValue != nil {
		v := c.num("collateralValue", *a.CollateralValue)
		a.CollateralValue = &v
	}
	a.ExistingLoanPayments = c.num("existingLoanPayments", a.ExistingLoanPayments)
	a.OtherMonthlyObligations = c.num("otherMonthlyObligations", a.OtherMonthlyObligations)
	a.EmergencyFundMonths = c.num("emergencyFundMonths", a.EmergencyFundMonths)
	a.MobileMoneyBalance = c.num("mobileMoneyBalance", a.MobileMoneyBalance)
	a.CreditHistoryLengthYears = c.num("creditHistoryLengthYears", a.CreditHistoryLengthYears)
	a.PaymentHistoryScore = c.num("paymentHistoryScore", a.PaymentHistoryScore)
	a.YearsEmployed = c.num("yearsEmployed", a.YearsEmployed)
	a.YearsInBusiness = c.num("yearsInBusiness", a.YearsInBusiness)
	return a
}

// finite zeroes a non-finite computed number.
func (c *coercer) finite(name string, v domain.Value) domain.Value {
	if v.Kind == domain.KindNumber && (math.IsNaN(v.Num) || math.IsInf(v.Num, 0)) {
		c.record(name, fmt.Sprint(v.Num), "non-finite derived value replaced with 0")
		return domain.Number(0)
	}
	return v
}

// system passes a platform-supplied value through when its kind matches
// the catalog entry, otherwise the documented default is used.
func (c *coercer) system(sys map[string]domain.Value, f Feature) domain.Value {
	v, ok := sys[f.Name]
	if !ok {
		return f.Default
	}
	if v.Kind != f.Default.Kind {
		c.record(f.Name, v.String(), fmt.Sprintf("expected %s, got %s; default used", f.Default.Kind, v.Kind))
		return f.Default
	}
	if v.Kind == domain.KindNumber && (math.IsNaN(v.Num) || math.IsInf(v.Num, 0)) {
		c.record(f.Name, fmt.Sprint(v.Num), "non-finite number; default used")
		return f.Default
	}
	return v
}

func systemNumber(sys map[string]domain.Value, name string) float64 {
	v, ok := sys[name]
	if !ok || v.Kind != domain.KindNumber || math.IsNaN(v.Num) {
		return 0
	}
	return v.Num
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

func pickNum(cond bool, yes, no float64) float64 {
	if cond {
		return yes
	}
	return no
}

// tiered returns high above hi, mid above lo, else low.
func tiered(v, hi, lo, high, mid, low float64) float64 {
	switch {
	case v > hi:
		return high
	case v > lo:
		return mid
	default:
		return low
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
