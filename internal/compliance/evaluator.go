package compliance

import (
	"fmt"
	"math"

	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/validation"
)

// Rule identifiers, in evaluation order.
const (
	RuleOneThirdSalary  = "one_third_salary_rule"
	RuleMaxLoanAmount   = "max_loan_amount"
	RuleMinLoanAmount   = "min_loan_amount"
	RuleMaxLoanTerm     = "max_loan_term"
	RuleMinInterestRate = "min_interest_rate"
	RuleMaxInterestRate = "max_interest_rate"
)

// Advisory identifiers.
const (
	AdvisorySalaryBuffer = "one_third_salary_buffer"
	AdvisoryLongTerm     = "long_loan_term"
)

// Evaluator applies a Policy. It holds no mutable state and is safe for
// concurrent use.
type Evaluator struct {
	policy Policy
}

// NewEvaluator creates an evaluator for p.
func NewEvaluator(p Policy) *Evaluator {
	return &Evaluator{policy: p}
}

// Policy returns the evaluator's policy.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate checks a proposed loan against the salary rule and the amount
// and term caps. Missing, non-finite or non-positive input yields a
// neutral compliant result so an incomplete form is never blocked.
func (e *Evaluator) Evaluate(loanAmount, monthlyIncome float64, loanTermMonths int) domain.ComplianceResult {
	return e.evaluate(loanAmount, monthlyIncome, loanTermMonths, 0)
}

// EvaluateWithRate is Evaluate plus the interest rate band check.
// A non-positive rate skips the band check.
func (e *Evaluator) EvaluateWithRate(loanAmount, monthlyIncome float64, loanTermMonths int, annualRate float64) domain.ComplianceResult {
	return e.evaluate(loanAmount, monthlyIncome, loanTermMonths, annualRate)
}

// EvaluateApplication evaluates the loan terms of app.
func (e *Evaluator) EvaluateApplication(app domain.LoanApplication) domain.ComplianceResult {
	return e.evaluate(app.LoanAmount, app.MonthlyIncome, app.LoanTermMonths, app.InterestRate)
}

func (e *Evaluator) evaluate(amount, income float64, term int, rate float64) domain.ComplianceResult {
	result := domain.ComplianceResult{
		Compliant:  true,
		Violations: []domain.Violation{},
	}
	if !positive(amount) || !positive(income) || term <= 0 {
		return result
	}

	p := e.policy
	payment := p.MonthlyPayment(amount, term)
	maxPayment := p.MaxMonthlyPayment(income)
	result.EstimatedMonthlyPayment = round2(payment)

	if payment > maxPayment {
		result.Violations = append(result.Violations, domain.Violation{
			Rule: RuleOneThirdSalary,
			Description: fmt.Sprintf("Proposed monthly payment (%s) exceeds 1/3 of monthly income (%s)",
				validation.FormatETB(payment), validation.FormatETB(maxPayment)),
			Severity: domain.SeverityCritical,
			Limit:    round2(maxPayment),
			Proposed: round2(payment),
		})
		result.Recommendations.MaxMonthlyPayment = round2(maxPayment)
		result.Recommendations.MaxLoanAmount = round2(p.MaxAffordableLoan(income, term, p.AnnualInterestRate))
	}

	if amount > p.MaxLoanAmount {
		result.Violations = append(result.Violations, domain.Violation{
			Rule: RuleMaxLoanAmount,
			Description: fmt.Sprintf("Loan amount (%s) exceeds the maximum threshold (%s)",
				validation.FormatETB(amount), validation.FormatETB(p.MaxLoanAmount)),
			Severity: domain.SeverityCritical,
			Limit:    p.MaxLoanAmount,
			Proposed: amount,
		})
	}

	if amount < p.MinLoanAmount {
		result.Violations = append(result.Violations, domain.Violation{
			Rule: RuleMinLoanAmount,
			Description: fmt.Sprintf("Loan amount (%s) is below the minimum threshold (%s)",
				validation.FormatETB(amount), validation.FormatETB(p.MinLoanAmount)),
			Severity: domain.SeverityCritical,
			Limit:    p.MinLoanAmount,
			Proposed: amount,
		})
	}

	if term > p.MaxTermMonths {
		result.Violations = append(result.Violations, domain.Violation{
			Rule: RuleMaxLoanTerm,
			Description: fmt.Sprintf("Loan term (%d months) exceeds the maximum allowed (%d months)",
				term, p.MaxTermMonths),
			Severity: domain.SeverityCritical,
			Limit:    float64(p.MaxTermMonths),
			Proposed: float64(term),
		})
		result.Recommendations.MaxLoanTermMonths = p.MaxTermMonths
	}

	if positive(rate) {
		if rate < p.MinInterestRate {
			result.Violations = append(result.Violations, domain.Violation{
				Rule: RuleMinInterestRate,
				Description: fmt.Sprintf("Interest rate (%.2f%%) is below the minimum threshold (%.2f%%)",
					rate*100, p.MinInterestRate*100),
				Severity: domain.SeverityCritical,
				Limit:    p.MinInterestRate,
				Proposed: rate,
			})
			result.Recommendations.SuggestedInterestRate = p.MinInterestRate
		}
		if rate > p.MaxInterestRate {
			result.Violations = append(result.Violations, domain.Violation{
				Rule: RuleMaxInterestRate,
				Description: fmt.Sprintf("Interest rate (%.2f%%) exceeds the maximum threshold (%.2f%%)",
					rate*100, p.MaxInterestRate*100),
				Severity: domain.SeverityCritical,
				Limit:    p.MaxInterestRate,
				Proposed: rate,
			})
			result.Recommendations.SuggestedInterestRate = p.MaxInterestRate
		}
	}

	if payment > maxPayment*p.NearLimitRatio && payment <= maxPayment {
		result.Advisories = append(result.Advisories, domain.Advisory{
			Rule:           AdvisorySalaryBuffer,
			Description:    "Monthly payment is close to the 1/3 salary limit",
			Recommendation: "Consider reducing the loan amount or extending the term to provide more buffer",
		})
	}
	if term > p.LongTermMonths {
		result.Advisories = append(result.Advisories, domain.Advisory{
			Rule:           AdvisoryLongTerm,
			Description:    fmt.Sprintf("Loan term exceeds %d months", p.LongTermMonths),
			Recommendation: "Longer terms may increase default risk. Consider shorter terms if possible",
		})
	}

	result.Compliant = len(result.Violations) == 0
	return result
}

// Report evaluates the loan and adds pricing and collection terms. The
// late fee example is one instalment 35 days overdue. Without a requested
// rate the recommended rate is priced for a 700 score.
func (e *Evaluator) Report(amount, income float64, term int, annualRate float64, customer domain.CustomerType) domain.ComplianceReport {
	p := e.policy
	report := domain.ComplianceReport{
		Compliance: e.evaluate(amount, income, term, annualRate),
	}
	if !positive(amount) || !positive(income) || term <= 0 {
		return report
	}

	report.GracePeriodDays = p.GracePeriod(amount, term, customer)
	report.LateFeeExample = round2(p.LateFee(p.MonthlyPayment(amount, term), 35))

	rate := annualRate
	if !positive(rate) {
		rate = p.AnnualInterestRate
	}
	report.MaxAffordableLoan = round2(p.MaxAffordableLoan(income, term, rate))

	if positive(annualRate) {
		report.RecommendedInterestRate = annualRate
	} else {
		report.RecommendedInterestRate = p.CompliantInterestRate(700, amount, term, customer)
	}
	return report
}

func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
