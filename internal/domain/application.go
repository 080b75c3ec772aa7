package domain

// EmploymentStatus is the applicant's employment category as captured on the form.
type EmploymentStatus string

const (
	EmploymentEmployed     EmploymentStatus = "employed"
	EmploymentSelfEmployed EmploymentStatus = "self_employed"
	EmploymentUnemployed   EmploymentStatus = "unemployed"
	EmploymentRetired      EmploymentStatus = "retired"
)

// Valid reports whether s is one of the known employment statuses.
func (s EmploymentStatus) Valid() bool {
	switch s {
	case EmploymentEmployed, EmploymentSelfEmployed, EmploymentUnemployed, EmploymentRetired:
		return true
	}
	return false
}

// Settlement distinguishes urban and rural applicants.
type Settlement string

const (
	SettlementUrban Settlement = "urban"
	SettlementRural Settlement = "rural"
)

// CustomerType drives the pricing and grace period adjustments.
type CustomerType string

const (
	CustomerIndividual CustomerType = "individual"
	CustomerBusiness   CustomerType = "business"
)

// LoanApplication is the immutable record of a credit-scoring application.
// It is passed by value into the evaluator and transformer.
type LoanApplication struct {
	// Identity
	CustomerID            string  `json:"customerId"`
	IDNumber              string  `json:"idNumber,omitempty"`
	PhoneNumber           string  `json:"phoneNumber,omitempty"`
	YearsAtCurrentAddress float64 `json:"yearsAtCurrentAddress"`

	// Loan terms
	LoanAmount      float64 `json:"loanAmount"`
	LoanTermMonths  int     `json:"loanTermMonths"`
	LoanPurpose     string  `json:"loanPurpose,omitempty"`
	LoanProductType string  `json:"loanProductType,omitempty"`

	// InterestRate is the requested annual rate as a decimal (0.15 = 15%).
	// Zero means the applicant did not request a specific rate.
	InterestRate float64 `json:"interestRate,omitempty"`

	// Financial
	MonthlyIncome           float64  `json:"monthlyIncome"`
	MonthlyExpenses         float64  `json:"monthlyExpenses"`
	SavingsBalance          float64  `json:"savingsBalance"`
	CheckingBalance         float64  `json:"checkingBalance"`
	TotalDebt               float64  `json:"totalDebt"`
	CreditUtilizationRatio  float64  `json:"creditUtilizationRatio"`
	CollateralValue         *float64 `json:"collateralValue,omitempty"`
	ExistingLoanPayments    float64  `json:"existingLoanPayments"`
	OtherMonthlyObligations float64  `json:"otherMonthlyObligations"`
	EmergencyFundMonths     float64  `json:"emergencyFundMonths"`
	MobileMoneyBalance      float64  `json:"mobileMoneyBalance"`
	DirectDeposit           bool     `json:"directDeposit"`

	// Credit history
	CreditHistoryLengthYears float64 `json:"creditHistoryLengthYears"`
	NumberOfCreditAccounts   int     `json:"numberOfCreditAccounts"`
	PaymentHistoryScore      float64 `json:"paymentHistoryScore"`
	NumberOfLatePayments     int     `json:"numberOfLatePayments"`
	NumberOfDefaults         int     `json:"numberOfDefaults"`
	InquiriesLast6m          int     `json:"inquiriesLast6m"`
	InquiriesLast12m         int     `json:"inquiriesLast12m"`
	NewAccountsLast6m        int     `json:"newAccountsLast6m"`

	// Employment
	EmploymentStatus EmploymentStatus `json:"employmentStatus,omitempty"`
	YearsEmployed    float64          `json:"yearsEmployed"`
	EmployerName     string           `json:"employerName,omitempty"`
	YearsInBusiness  float64          `json:"yearsInBusiness"`

	// Personal
	Age                int        `json:"age"`
	Region             string     `json:"region,omitempty"`
	UrbanOrRural       Settlement `json:"urbanOrRural,omitempty"`
	BusinessSector     string     `json:"businessSector,omitempty"`
	GuarantorAvailable *bool      `json:"guarantorAvailable,omitempty"`
	EducationLevel     string     `json:"educationLevel,omitempty"`
	MaritalStatus      string     `json:"maritalStatus,omitempty"`
	Dependents         int        `json:"dependents"`

	// System holds read-only signals supplied by platform services
	// (fraud, KYC, bureau flags, model governance, macro indicators).
	// Form fields never populate it.
	System map[string]Value `json:"system,omitempty"`
}

// CustomerType classifies the applicant for pricing purposes.
func (a LoanApplication) CustomerType() CustomerType {
	if a.EmploymentStatus == EmploymentSelfEmployed || a.BusinessSector != "" && a.YearsInBusiness > 0 {
		return CustomerBusiness
	}
	return CustomerIndividual
}

// WithSystem returns a copy of a with the system signal name set to v.
// The receiver's map is never mutated.
func (a LoanApplication) WithSystem(name string, v Value) LoanApplication {
	sys := make(map[string]Value, len(a.System)+1)
	for k, existing := range a.System {
		sys[k] = existing
	}
	sys[name] = v
	a.System = sys
	return a
}
