package features

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/validation"
)

// ErrInvalidJSON is returned when a body is not a JSON object.
var ErrInvalidJSON = errors.New("body must be a JSON object")

// reader pulls loosely typed values out of a JSON document. Values of the
// wrong type become zero values and are recorded as coercions.
type reader struct {
	root      gjson.Result
	coercions []domain.Coercion
}

func newReader(body []byte) (*reader, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrInvalidJSON
	}
	return &reader{root: root}, nil
}

func (r *reader) coerce(field string, res gjson.Result, reason string) {
	r.coercions = append(r.coercions, domain.Coercion{Field: field, Raw: res.Raw, Reason: reason})
}

// first returns the first path holding a non-null value.
func (r *reader) first(paths []string) (gjson.Result, bool) {
	for _, p := range paths {
		res := r.root.Get(p)
		if res.Exists() && res.Type != gjson.Null {
			return res, true
		}
	}
	return gjson.Result{}, false
}

func (r *reader) number(field string, paths ...string) (float64, bool) {
	res, ok := r.first(paths)
	if !ok {
		return 0, false
	}
	switch res.Type {
	case gjson.Number:
		f := res.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			r.coerce(field, res, "non-finite number replaced with 0")
			return 0, true
		}
		return f, true
	case gjson.String:
		if strings.TrimSpace(res.Str) == "" {
			return 0, false
		}
		if f, ok := validation.ParseETB(res.Str); ok {
			return f, true
		}
		r.coerce(field, res, "non-numeric string replaced with 0")
		return 0, true
	default:
		r.coerce(field, res, "expected a number; replaced with 0")
		return 0, true
	}
}

func (r *reader) integer(field string, paths ...string) (int, bool) {
	f, ok := r.number(field, paths...)
	return int(math.Round(f)), ok
}

func (r *reader) text(field string, paths ...string) (string, bool) {
	res, ok := r.first(paths)
	if !ok {
		return "", false
	}
	switch res.Type {
	case gjson.String:
		return strings.TrimSpace(res.Str), res.Str != ""
	case gjson.Number:
		return res.Raw, true
	default:
		r.coerce(field, res, "expected a string; ignored")
		return "", false
	}
}

func (r *reader) flag(field string, paths ...string) (bool, bool) {
	res, ok := r.first(paths)
	if !ok {
		return false, false
	}
	switch res.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.String:
		if b, err := strconv.ParseBool(strings.TrimSpace(res.Str)); err == nil {
			return b, true
		}
		switch strings.ToLower(strings.TrimSpace(res.Str)) {
		case "yes", "y":
			return true, true
		case "no", "n", "":
			return false, true
		}
	case gjson.Number:
		return res.Float() != 0, true
	}
	r.coerce(field, res, "expected a boolean; replaced with false")
	return false, true
}

// DecodeApplication reads a loan application from a form body. Field names
// are accepted in camelCase or snake_case. Numeric strings (including
// "ETB 1,000") are parsed; anything else in a numeric slot becomes 0 and
// is reported. System signals are never read from a form body; they come
// from MergeCustomer360 or the server.
func DecodeApplication(body []byte) (domain.LoanApplication, []domain.Coercion, error) {
	r, err := newReader(body)
	if err != nil {
		return domain.LoanApplication{}, nil, err
	}

	var a domain.LoanApplication
	a.CustomerID, _ = r.text("customerId", "customerId", "customer_id")
	a.IDNumber, _ = r.text("idNumber", "idNumber", "id_number")
	a.PhoneNumber, _ = r.text("phoneNumber", "phoneNumber", "phone_number")
	a.YearsAtCurrentAddress, _ = r.number("yearsAtCurrentAddress", "yearsAtCurrentAddress", "years_at_current_address")

	a.LoanAmount, _ = r.number("loanAmount", "loanAmount", "loan_amount")
	a.LoanTermMonths, _ = r.integer("loanTermMonths", "loanTermMonths", "loan_term_months")
	a.LoanPurpose, _ = r.text("loanPurpose", "loanPurpose", "loan_purpose")
	a.LoanProductType, _ = r.text("loanProductType", "loanProductType", "loan_product_type")
	a.InterestRate, _ = r.number("interestRate", "interestRate", "interest_rate")

	a.MonthlyIncome, _ = r.number("monthlyIncome", "monthlyIncome", "monthly_income")
	a.MonthlyExpenses, _ = r.number("monthlyExpenses", "monthlyExpenses", "monthly_expenses")
	a.SavingsBalance, _ = r.number("savingsBalance", "savingsBalance", "savings_balance")
	a.CheckingBalance, _ = r.number("checkingBalance", "checkingBalance", "checking_balance")
	a.TotalDebt, _ = r.number("totalDebt", "totalDebt", "total_debt")
	a.CreditUtilizationRatio, _ = r.number("creditUtilizationRatio", "creditUtilizationRatio", "credit_utilization_ratio")
	if v, ok := r.number("collateralValue", "collateralValue", "collateral_value"); ok {
		a.CollateralValue = &v
	}
	a.ExistingLoanPayments, _ = r.number("existingLoanPayments", "existingLoanPayments", "existing_loan_payments")
	a.OtherMonthlyObligations, _ = r.number("otherMonthlyObligations", "otherMonthlyObligations", "other_monthly_obligations")
	a.EmergencyFundMonths, _ = r.number("emergencyFundMonths", "emergencyFundMonths", "emergency_fund_months")
	a.MobileMoneyBalance, _ = r.number("mobileMoneyBalance", "mobileMoneyBalance", "mobile_money_balance", "mpesa_balance")
	a.DirectDeposit, _ = r.flag("directDeposit", "directDeposit", "direct_deposit_flag")

	a.CreditHistoryLengthYears, _ = r.number("creditHistoryLengthYears", "creditHistoryLengthYears", "credit_history_length")
	a.NumberOfCreditAccounts, _ = r.integer("numberOfCreditAccounts", "numberOfCreditAccounts", "number_of_credit_accounts")
	a.PaymentHistoryScore, _ = r.number("paymentHistoryScore", "paymentHistoryScore", "payment_history_score")
	a.NumberOfLatePayments, _ = r.integer("numberOfLatePayments", "numberOfLatePayments", "number_of_late_payments")
	a.NumberOfDefaults, _ = r.integer("numberOfDefaults", "numberOfDefaults", "number_of_defaults")
	a.InquiriesLast6m, _ = r.integer("inquiriesLast6m", "inquiriesLast6m", "inquiries_last_6m")
	a.InquiriesLast12m, _ = r.integer("inquiriesLast12m", "inquiriesLast12m", "inquiries_last_12m")
	a.NewAccountsLast6m, _ = r.integer("newAccountsLast6m", "newAccountsLast6m", "new_accounts_last_6m")

	status, _ := r.text("employmentStatus", "employmentStatus", "employment_status")
	a.EmploymentStatus = domain.EmploymentStatus(strings.ToLower(status))
	a.YearsEmployed, _ = r.number("yearsEmployed", "yearsEmployed", "years_employed")
	a.EmployerName, _ = r.text("employerName", "employerName", "employer_name")
	a.YearsInBusiness, _ = r.number("yearsInBusiness", "yearsInBusiness", "years_in_business")

	a.Age, _ = r.integer("age", "age")
	a.Region, _ = r.text("region", "region")
	settlement, _ := r.text("urbanOrRural", "urbanOrRural", "urban_rural")
	a.UrbanOrRural = domain.Settlement(strings.ToLower(settlement))
	a.BusinessSector, _ = r.text("businessSector", "businessSector", "business_sector")
	if v, ok := r.flag("guarantorAvailable", "guarantorAvailable", "guarantor_available"); ok {
		a.GuarantorAvailable = &v
	}
	a.EducationLevel, _ = r.text("educationLevel", "educationLevel", "education_level")
	a.MaritalStatus, _ = r.text("maritalStatus", "maritalStatus", "marital_status")
	a.Dependents, _ = r.integer("dependents", "dependents", "dependents_count")

	return a, r.coercions, nil
}

// signal converts val to the kind of f's default.
func (r *reader) signal(f Feature, val gjson.Result) (domain.Value, bool) {
	switch f.Default.Kind {
	case domain.KindNumber:
		switch val.Type {
		case gjson.Number:
			return domain.Number(val.Float()), true
		case gjson.String:
			if n, ok := validation.ParseETB(val.Str); ok {
				return domain.Number(n), true
			}
		}
	case domain.KindFlag:
		switch val.Type {
		case gjson.True, gjson.False:
			return domain.Flag(val.Bool()), true
		case gjson.String:
			if b, err := strconv.ParseBool(val.Str); err == nil {
				return domain.Flag(b), true
			}
		}
	case domain.KindText:
		switch val.Type {
		case gjson.String:
			return domain.Text(val.Str), true
		case gjson.Number:
			return domain.Text(val.Raw), true
		}
	}
	if val.Type != gjson.Null {
		r.coerce(f.Name, val, "system signal of unexpected type ignored")
	}
	return domain.Value{}, false
}

// MergeCustomer360 fills fields the form left empty from a Customer 360
// record. The record may nest values under "customer", "profile", "credit"
// or "risk"; absent fields are tolerated. System signals found in the
// record are added to app.System unless already present.
func MergeCustomer360(app domain.LoanApplication, record []byte) (domain.LoanApplication, []domain.Coercion, error) {
	r, err := newReader(record)
	if err != nil {
		return app, nil, err
	}

	paths := func(names ...string) []string {
		var out []string
		for _, name := range names {
			for _, prefix := range []string{"customer.", "profile.", "credit.", ""} {
				out = append(out, prefix+name)
			}
		}
		return out
	}

	fillNum := func(dst *float64, field string, p []string) {
		if *dst == 0 {
			if v, ok := r.number(field, p...); ok {
				*dst = v
			}
		}
	}
	fillInt := func(dst *int, field string, p []string) {
		if *dst == 0 {
			if v, ok := r.integer(field, p...); ok {
				*dst = v
			}
		}
	}
	fillText := func(dst *string, field string, p []string) {
		if *dst == "" {
			if v, ok := r.text(field, p...); ok {
				*dst = v
			}
		}
	}

	fillNum(&app.MonthlyIncome, "monthlyIncome", paths("monthly_income", "income"))
	fillNum(&app.MonthlyExpenses, "monthlyExpenses", paths("monthly_expenses", "expenses"))
	fillNum(&app.SavingsBalance, "savingsBalance", paths("savings_balance", "savings"))
	fillNum(&app.CheckingBalance, "checkingBalance", paths("checking_balance", "checking"))
	fillNum(&app.TotalDebt, "totalDebt", paths("total_debt", "debt"))
	fillNum(&app.CreditHistoryLengthYears, "creditHistoryLengthYears", paths("credit_history_length", "credit_history_years"))
	fillInt(&app.NumberOfCreditAccounts, "numberOfCreditAccounts", paths("number_of_credit_accounts", "credit_accounts"))
	fillNum(&app.PaymentHistoryScore, "paymentHistoryScore", paths("payment_history_score", "payment_score"))
	fillInt(&app.NumberOfLatePayments, "numberOfLatePayments", paths("number_of_late_payments", "late_payments"))
	fillInt(&app.NumberOfDefaults, "numberOfDefaults", paths("number_of_defaults", "defaults"))
	fillNum(&app.CreditUtilizationRatio, "creditUtilizationRatio", paths("credit_utilization_ratio", "utilization_ratio"))
	fillNum(&app.YearsEmployed, "yearsEmployed", paths("years_employed", "employment_years"))
	fillText(&app.EmployerName, "employerName", paths("employer_name", "employer"))
	fillInt(&app.Age, "age", paths("age"))
	fillText(&app.PhoneNumber, "phoneNumber", paths("phone_number", "phone"))
	fillText(&app.IDNumber, "idNumber", paths("id_number"))
	fillText(&app.Region, "region", paths("region", "city"))
	fillText(&app.BusinessSector, "businessSector", paths("business_sector", "sector"))

	if app.EmploymentStatus == "" {
		if v, ok := r.text("employmentStatus", paths("employment_status")...); ok {
			app.EmploymentStatus = domain.EmploymentStatus(strings.ToLower(v))
		}
	}
	if app.UrbanOrRural == "" {
		if v, ok := r.text("urbanOrRural", paths("urban_rural", "location_type")...); ok {
			app.UrbanOrRural = domain.Settlement(strings.ToLower(v))
		}
	}

	for _, f := range catalog {
		if f.Source != SourceSystem && f.Source != SourceMacro {
			continue
		}
		if _, set := app.System[f.Name]; set {
			continue
		}
		res, ok := r.first([]string{"system." + f.Name, "risk." + f.Name, f.Name})
		if !ok {
			continue
		}
		if v, ok := r.signal(f, res); ok {
			app = app.WithSystem(f.Name, v)
		}
	}

	return app, r.coercions, nil
}
