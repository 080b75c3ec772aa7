// Package compliance evaluates proposed loans against NBE lending rules.
package compliance

import (
	"math"

	"github.com/opensource-finance/scoregate/internal/domain"
)

// Policy holds the regulatory limits. Rates are annual decimals.
type Policy struct {
	MinLoanAmount float64
	MaxLoanAmount float64
	MaxTermMonths int

	// SalaryRatio caps the monthly payment as a share of monthly income.
	SalaryRatio float64

	// NearLimitRatio raises an advisory once the payment passes this share
	// of the salary cap.
	NearLimitRatio float64

	// LongTermMonths raises an advisory for longer terms.
	LongTermMonths int

	// AnnualInterestRate drives the payment estimate. Zero means
	// straight-line repayment: amount / term.
	AnnualInterestRate float64

	MinInterestRate float64
	MaxInterestRate float64

	GracePeriodDays int
	LateFeeRate     float64
}

// DefaultPolicy returns the NBE limits.
func DefaultPolicy() Policy {
	return Policy{
		MinLoanAmount:   1000,
		MaxLoanAmount:   5000000,
		MaxTermMonths:   60,
		SalaryRatio:     1.0 / 3.0,
		NearLimitRatio:  0.9,
		LongTermMonths:  48,
		MinInterestRate: 0.12,
		MaxInterestRate: 0.25,
		GracePeriodDays: 30,
		LateFeeRate:     0.02,
	}
}

// PolicyFromConfig applies configured limits over DefaultPolicy.
// Zero config values keep the default.
func PolicyFromConfig(cfg domain.PolicyConfig) Policy {
	p := DefaultPolicy()
	if cfg.MinLoanAmount > 0 {
		p.MinLoanAmount = cfg.MinLoanAmount
	}
	if cfg.MaxLoanAmount > 0 {
		p.MaxLoanAmount = cfg.MaxLoanAmount
	}
	if cfg.MaxTermMonths > 0 {
		p.MaxTermMonths = cfg.MaxTermMonths
	}
	if cfg.AnnualInterestRate > 0 {
		p.AnnualInterestRate = cfg.AnnualInterestRate
	}
	return p
}

// MonthlyPayment estimates the instalment for amount over termMonths at the
// policy rate.
func (p Policy) MonthlyPayment(amount float64, termMonths int) float64 {
	return AmortizedPayment(amount, p.AnnualInterestRate, termMonths)
}

// MaxMonthlyPayment is the salary-rule cap for income.
func (p Policy) MaxMonthlyPayment(monthlyIncome float64) float64 {
	return monthlyIncome * p.SalaryRatio
}

// AmortizedPayment returns the reducing-balance instalment
// P*r / (1 - (1+r)^-n) with r = annualRate/12. A zero rate gives P/n.
// Non-positive terms return 0.
func AmortizedPayment(principal, annualRate float64, termMonths int) float64 {
	if termMonths <= 0 {
		return 0
	}
	n := float64(termMonths)
	if annualRate <= 0 {
		return principal / n
	}
	r := annualRate / 12
	return principal * r / (1 - math.Pow(1+r, -n))
}

// MaxAffordableLoan is the principal whose instalment equals the salary cap.
// Without a rate it is cap * term; with one it is the present value of the
// cap, bounded by MaxLoanAmount.
func (p Policy) MaxAffordableLoan(monthlyIncome float64, termMonths int, annualRate float64) float64 {
	maxPayment := p.MaxMonthlyPayment(monthlyIncome)
	if annualRate <= 0 {
		return maxPayment * float64(termMonths)
	}
	r := annualRate / 12
	pvFactor := (1 - math.Pow(1+r, -float64(termMonths))) / r
	return math.Min(maxPayment*pvFactor, p.MaxLoanAmount)
}

// CompliantInterestRate prices a loan from a 300-850 credit score within
// the regulatory band, rounded to four decimals.
func (p Policy) CompliantInterestRate(creditScore, amount float64, termMonths int, customer domain.CustomerType) float64 {
	rate := p.MinInterestRate
	normalized := (850 - creditScore) / 550
	rate += normalized * (p.MaxInterestRate - p.MinInterestRate) * 0.6

	if amount > 1000000 {
		rate += 0.02
	} else if amount < 50000 {
		rate -= 0.01
	}
	if termMonths > 36 {
		rate += 0.01
	}
	if customer == domain.CustomerBusiness {
		rate += 0.01
	}

	rate = math.Max(rate, p.MinInterestRate)
	rate = math.Min(rate, p.MaxInterestRate)
	return math.Round(rate*10000) / 10000
}

// GracePeriod returns the repayment grace period in days. Each surcharge
// condition below adds a week to the base period.
func (p Policy) GracePeriod(amount float64, termMonths int, customer domain.CustomerType) int {
	days := p.GracePeriodDays
	if amount > 1000000 {
		days += 7
	}
	if termMonths > 36 {
		days += 7
	}
	if customer == domain.CustomerBusiness {
		days += 7
	}
	return days
}

// LateFee is the base late fee plus 1% of the overdue amount for each full
// 30 days past the first 30.
func (p Policy) LateFee(overdue float64, daysOverdue int) float64 {
	if daysOverdue <= 0 || overdue <= 0 {
		return 0
	}
	fee := overdue * p.LateFeeRate
	if daysOverdue > 30 {
		fee += overdue * 0.01 * float64((daysOverdue-30)/30)
	}
	return fee
}
