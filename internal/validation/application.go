package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/scoregate/internal/domain"
)

// Warning is a non-blocking observation about a field.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result collects blocking errors and advisory warnings.
type Result struct {
	Errors   []*ValidationError `json:"errors"`
	Warnings []Warning          `json:"warnings"`
}

// Valid reports whether no blocking error was found.
func (r Result) Valid() bool { return len(r.Errors) == 0 }

// Err returns the first error, or nil.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

func (r *Result) fail(field, value, msg string) {
	r.Errors = append(r.Errors, &ValidationError{Field: field, Value: value, Message: msg})
}

func (r *Result) warn(field, msg string) {
	r.Warnings = append(r.Warnings, Warning{Field: field, Message: msg})
}

func (r *Result) merge(o Result) {
	r.Errors = append(r.Errors, o.Errors...)
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// ValidateApplication checks field shapes and ranges, then the cross-field
// business checks. Regulatory caps on amount and term are reported by the
// compliance evaluator, not here.
func ValidateApplication(app domain.LoanApplication) Result {
	var r Result

	if strings.TrimSpace(app.CustomerID) == "" {
		r.fail("customerId", "", "Customer ID is required")
	}
	if app.IDNumber != "" {
		if err := ValidateEthiopianID(app.IDNumber); err != nil {
			r.Errors = append(r.Errors, err.(*ValidationError))
		}
	}
	if app.PhoneNumber != "" {
		if err := ValidateEthiopianPhone(app.PhoneNumber); err != nil {
			r.Errors = append(r.Errors, err.(*ValidationError))
		}
	}

	if !(app.LoanAmount > 0) {
		r.fail("loanAmount", format(app.LoanAmount), "Loan amount must be positive")
	}
	if app.LoanTermMonths < 1 {
		r.fail("loanTermMonths", fmt.Sprint(app.LoanTermMonths), "Loan term must be at least 1 month")
	}

	nonNegative := []struct {
		field string
		value float64
	}{
		{"monthlyIncome", app.MonthlyIncome},
		{"monthlyExpenses", app.MonthlyExpenses},
		{"savingsBalance", app.SavingsBalance},
		{"checkingBalance", app.CheckingBalance},
		{"totalDebt", app.TotalDebt},
		{"existingLoanPayments", app.ExistingLoanPayments},
		{"otherMonthlyObligations", app.OtherMonthlyObligations},
		{"emergencyFundMonths", app.EmergencyFundMonths},
		{"mobileMoneyBalance", app.MobileMoneyBalance},
		{"creditHistoryLengthYears", app.CreditHistoryLengthYears},
		{"yearsEmployed", app.YearsEmployed},
		{"yearsInBusiness", app.YearsInBusiness},
		{"yearsAtCurrentAddress", app.YearsAtCurrentAddress},
		{"numberOfCreditAccounts", float64(app.NumberOfCreditAccounts)},
		{"numberOfLatePayments", float64(app.NumberOfLatePayments)},
		{"numberOfDefaults", float64(app.NumberOfDefaults)},
		{"inquiriesLast6m", float64(app.InquiriesLast6m)},
		{"inquiriesLast12m", float64(app.InquiriesLast12m)},
		{"newAccountsLast6m", float64(app.NewAccountsLast6m)},
		{"dependents", float64(app.Dependents)},
	}
	for _, f := range nonNegative {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			r.fail(f.field, format(f.value), "Value must be a finite number")
		} else if f.value < 0 {
			r.fail(f.field, format(f.value), "Value cannot be negative")
		}
	}
	if app.CollateralValue != nil && *app.CollateralValue < 0 {
		r.fail("collateralValue", format(*app.CollateralValue), "Value cannot be negative")
	}

	if app.PaymentHistoryScore < 0 || app.PaymentHistoryScore > 100 {
		r.fail("paymentHistoryScore", format(app.PaymentHistoryScore), "Payment history score must be between 0 and 100")
	}
	if app.EmploymentStatus != "" && !app.EmploymentStatus.Valid() {
		r.fail("employmentStatus", string(app.EmploymentStatus), "Unknown employment status")
	}
	if app.UrbanOrRural != "" && app.UrbanOrRural != domain.SettlementUrban && app.UrbanOrRural != domain.SettlementRural {
		r.fail("urbanOrRural", string(app.UrbanOrRural), "Must be urban or rural")
	}
	if app.Region != "" {
		if err := ValidateRegion(app.Region); err != nil {
			r.Errors = append(r.Errors, err.(*ValidationError))
		}
	}
	if app.BusinessSector != "" {
		if err := ValidateBusinessSector(app.BusinessSector); err != nil {
			r.Errors = append(r.Errors, err.(*ValidationError))
		}
	}

	r.merge(CheckIncomeExpenses(app.MonthlyIncome, app.MonthlyExpenses))
	r.merge(CheckCreditUtilization(app.CreditUtilizationRatio))
	r.merge(CheckEmploymentStability(app.EmploymentStatus, app.YearsEmployed, app.MonthlyIncome))
	r.merge(CheckAgeEmployment(app.Age, app.EmploymentStatus, app.YearsEmployed))
	return r
}

// CheckIncomeExpenses rejects expenses above income and warns above 90%.
func CheckIncomeExpenses(income, expenses float64) Result {
	var r Result
	switch {
	case expenses > income:
		r.fail("monthlyExpenses", format(expenses), "Monthly expenses cannot exceed monthly income")
	case expenses > income*0.9:
		r.warn("monthlyExpenses", "Expenses are very high relative to income (over 90%)")
	}
	return r
}

// CheckCreditUtilization requires a percentage and warns above 80.
func CheckCreditUtilization(ratio float64) Result {
	var r Result
	switch {
	case ratio < 0 || ratio > 100 || math.IsNaN(ratio):
		r.fail("creditUtilizationRatio", format(ratio), "Credit utilization ratio must be between 0 and 100")
	case ratio > 80:
		r.warn("creditUtilizationRatio", "High credit utilization ratio (>80%) may negatively impact credit score")
	}
	return r
}

// CheckEmploymentStability rejects income for unemployed applicants and
// warns on tenure under six months.
func CheckEmploymentStability(status domain.EmploymentStatus, yearsEmployed, income float64) Result {
	var r Result
	switch {
	case status == domain.EmploymentUnemployed && income > 0:
		r.fail("employmentStatus", string(status), "Cannot have monthly income if employment status is unemployed")
	case status == domain.EmploymentEmployed && yearsEmployed < 0.5:
		r.warn("yearsEmployed", "Very short employment tenure (<6 months) may impact credit assessment")
	}
	return r
}

// CheckAgeEmployment enforces the age range and its consistency with
// employment history.
func CheckAgeEmployment(age int, status domain.EmploymentStatus, yearsEmployed float64) Result {
	var r Result
	switch {
	case age < 18:
		r.fail("age", fmt.Sprint(age), "Age must be at least 18 years")
	case age > 100:
		r.fail("age", fmt.Sprint(age), "Age cannot exceed 100 years")
	case yearsEmployed > float64(age-18):
		r.fail("yearsEmployed", format(yearsEmployed), "Years employed cannot exceed age minus 18")
	case status == domain.EmploymentRetired && age < 55:
		r.fail("employmentStatus", string(status), "Retirement status typically requires age 55 or older")
	}
	return r
}

func format(f float64) string {
	return fmt.Sprintf("%g", f)
}
