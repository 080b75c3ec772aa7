package validation

import (
	"errors"
	"testing"

	"github.com/opensource-finance/scoregate/internal/domain"
)

func TestValidateEthiopianPhone(t *testing.T) {
	tests := []struct {
		phone string
		valid bool
	}{
		{"+251912345678", true},
		{"0912345678", true},
		{"0712345678", true},
		{"912345678", false},
		{"+25191234567", false},
		{"+2519123456789", false},
		{"09123456a8", false},
		{"+251 912345678", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			err := ValidateEthiopianPhone(tt.phone)
			if tt.valid && err != nil {
				t.Errorf("expected %q to be valid, got %v", tt.phone, err)
			}
			if !tt.valid {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected ValidationError for %q, got %v", tt.phone, err)
				}
				if verr.Field != "phoneNumber" {
					t.Errorf("expected field phoneNumber, got %s", verr.Field)
				}
			}
		})
	}
}

func TestValidateEthiopianID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"1234567890", true},
		{"0000000000", true},
		{"123456789", false},
		{"12345678901", false},
		{"12345abcde", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateEthiopianID(tt.id)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateEthiopianID(%q): expected valid=%v, got err=%v", tt.id, tt.valid, err)
			}
		})
	}
}

func TestValidateRegionAndSector(t *testing.T) {
	if err := ValidateRegion("Oromia"); err != nil {
		t.Errorf("expected Oromia to be valid, got %v", err)
	}
	if err := ValidateRegion("Atlantis"); err == nil {
		t.Error("expected error for unknown region")
	}
	if err := ValidateBusinessSector("Agriculture"); err != nil {
		t.Errorf("expected Agriculture to be valid, got %v", err)
	}
	if err := ValidateBusinessSector("Piracy"); err == nil {
		t.Error("expected error for unknown sector")
	}
}

func TestParseAndFormatETB(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"ETB 1,250.50", 1250.5, true},
		{"5000", 5000, true},
		{"1 000 000 ETB", 1000000, true},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseETB(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseETB(%q): expected (%v, %v), got (%v, %v)", tt.in, tt.want, tt.ok, got, ok)
		}
	}

	if got := FormatETB(1234567.891); got != "1,234,567.89 ETB" {
		t.Errorf("expected '1,234,567.89 ETB', got '%s'", got)
	}
}

func validApplication() domain.LoanApplication {
	return domain.LoanApplication{
		CustomerID:             "cust-001",
		IDNumber:               "1234567890",
		PhoneNumber:            "+251912345678",
		LoanAmount:             50000,
		LoanTermMonths:         12,
		MonthlyIncome:          20000,
		MonthlyExpenses:        8000,
		CreditUtilizationRatio: 30,
		PaymentHistoryScore:    85,
		EmploymentStatus:       domain.EmploymentEmployed,
		YearsEmployed:          4,
		Age:                    35,
		Region:                 "Addis Ababa",
		UrbanOrRural:           domain.SettlementUrban,
	}
}

func TestValidateApplication(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		r := ValidateApplication(validApplication())
		if !r.Valid() {
			t.Fatalf("expected valid application, got errors: %v", r.Errors)
		}
		if len(r.Warnings) != 0 {
			t.Errorf("expected no warnings, got %v", r.Warnings)
		}
	})

	tests := []struct {
		name   string
		mutate func(*domain.LoanApplication)
		field  string
	}{
		{"MissingCustomer", func(a *domain.LoanApplication) { a.CustomerID = "  " }, "customerId"},
		{"BadPhone", func(a *domain.LoanApplication) { a.PhoneNumber = "912345678" }, "phoneNumber"},
		{"BadID", func(a *domain.LoanApplication) { a.IDNumber = "123" }, "idNumber"},
		{"NegativeDebt", func(a *domain.LoanApplication) { a.TotalDebt = -1 }, "totalDebt"},
		{"ZeroTerm", func(a *domain.LoanApplication) { a.LoanTermMonths = 0 }, "loanTermMonths"},
		{"ZeroAmount", func(a *domain.LoanApplication) { a.LoanAmount = 0 }, "loanAmount"},
		{"Underage", func(a *domain.LoanApplication) { a.Age = 17; a.YearsEmployed = 0 }, "age"},
		{"TooOld", func(a *domain.LoanApplication) { a.Age = 101 }, "age"},
		{"UtilizationRange", func(a *domain.LoanApplication) { a.CreditUtilizationRatio = 120 }, "creditUtilizationRatio"},
		{"PaymentHistoryRange", func(a *domain.LoanApplication) { a.PaymentHistoryScore = -5 }, "paymentHistoryScore"},
		{"ExpensesOverIncome", func(a *domain.LoanApplication) { a.MonthlyExpenses = 25000 }, "monthlyExpenses"},
		{"UnemployedWithIncome", func(a *domain.LoanApplication) { a.EmploymentStatus = domain.EmploymentUnemployed }, "employmentStatus"},
		{"YoungRetiree", func(a *domain.LoanApplication) { a.EmploymentStatus = domain.EmploymentRetired }, "employmentStatus"},
		{"TenureExceedsAge", func(a *domain.LoanApplication) { a.YearsEmployed = 20 }, "yearsEmployed"},
		{"UnknownRegion", func(a *domain.LoanApplication) { a.Region = "Narnia" }, "region"},
		{"UnknownStatus", func(a *domain.LoanApplication) { a.EmploymentStatus = "freelance" }, "employmentStatus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := validApplication()
			tt.mutate(&app)
			r := ValidateApplication(app)
			if r.Valid() {
				t.Fatal("expected validation errors")
			}
			found := false
			for _, e := range r.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, r.Errors)
			}
		})
	}
}

func TestValidateApplicationLeavesCapsToCompliance(t *testing.T) {
	app := validApplication()
	app.LoanAmount = 6000000
	app.LoanTermMonths = 72

	if r := ValidateApplication(app); !r.Valid() {
		t.Errorf("expected regulatory caps to pass field validation, got %v", r.Errors)
	}
}

func TestCrossFieldWarnings(t *testing.T) {
	if r := CheckIncomeExpenses(10000, 9500); !r.Valid() || len(r.Warnings) != 1 {
		t.Errorf("expected one warning for 95%% expenses, got %+v", r)
	}
	if r := CheckCreditUtilization(85); !r.Valid() || len(r.Warnings) != 1 {
		t.Errorf("expected one warning for 85%% utilization, got %+v", r)
	}
	if r := CheckEmploymentStability(domain.EmploymentEmployed, 0.25, 5000); !r.Valid() || len(r.Warnings) != 1 {
		t.Errorf("expected one warning for short tenure, got %+v", r)
	}
	if r := CheckAgeEmployment(60, domain.EmploymentRetired, 30); !r.Valid() {
		t.Errorf("expected 60 year old retiree to be valid, got %v", r.Errors)
	}
}
