// Package features maps loan applications onto the feature vector consumed
// by the remote credit-scoring model.
package features

import (
	"github.com/opensource-finance/scoregate/internal/domain"
)

// Source describes where a feature's value comes from.
type Source uint8

const (
	// SourceInput is copied from an application field.
	SourceInput Source = iota
	// SourceDerived is computed from application fields.
	SourceDerived
	// SourceSystem is supplied by platform services through
	// LoanApplication.System and never computed from form fields.
	SourceSystem
	// SourceMacro is a regional or macroeconomic indicator, also read
	// from LoanApplication.System.
	SourceMacro
)

func (s Source) String() string {
	switch s {
	case SourceInput:
		return "input"
	case SourceDerived:
		return "derived"
	case SourceSystem:
		return "system"
	case SourceMacro:
		return "macro"
	}
	return "unknown"
}

// MarshalText encodes the source name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Wire group names.
const (
	GroupLoanDetails     = "loan_details"
	GroupCoreCredit      = "core_credit_performance"
	GroupAffordability   = "affordability_and_obligations"
	GroupBankMobileMoney = "bank_and_mobile_money_dynamics"
	GroupIdentityFraud   = "identity_and_fraud_intelligence"
	GroupPersonal        = "personal_and_professional_stability"
	GroupMacro           = "contextual_and_macroeconomic_factors"
	GroupProduct         = "product_specific_intelligence"
	GroupBusiness        = "business_and_receivables_finance"
	GroupBehavioral      = "behavioral_intelligence"
	GroupGovernance      = "model_governance_and_monitoring"
)

// Unknown is the sentinel for categorical signals nobody supplied.
const Unknown = "unknown"

// Feature describes one entry of the model contract.
type Feature struct {
	Name    string       `json:"name"`
	Group   string       `json:"group"`
	Source  Source       `json:"source"`
	Default domain.Value `json:"default"`
}

func input(group, name string, def domain.Value) Feature {
	return Feature{Name: name, Group: group, Source: SourceInput, Default: def}
}

func derived(group, name string, def domain.Value) Feature {
	return Feature{Name: name, Group: group, Source: SourceDerived, Default: def}
}

func system(group, name string, def domain.Value) Feature {
	return Feature{Name: name, Group: group, Source: SourceSystem, Default: def}
}

func macro(group, name string, def domain.Value) Feature {
	return Feature{Name: name, Group: group, Source: SourceMacro, Default: def}
}

var (
	zero    = domain.Number(0)
	no      = domain.Flag(false)
	unknown = domain.Text(Unknown)
	empty   = domain.Text("")
)

var catalog = []Feature{
	// Loan details
	input(GroupLoanDetails, "loan_amount", zero),
	input(GroupLoanDetails, "loan_term_months", zero),
	input(GroupLoanDetails, "loan_purpose", domain.Text("Personal")),
	input(GroupLoanDetails, "requested_interest_rate", zero),
	derived(GroupLoanDetails, "estimated_monthly_payment", zero),
	derived(GroupLoanDetails, "nbe_compliant_flag", domain.Flag(true)),

	// Core credit performance
	derived(GroupCoreCredit, "credit_history_length_months", zero),
	derived(GroupCoreCredit, "worst_status_last_12m", domain.Text("Current")),
	derived(GroupCoreCredit, "recent_delinquency_flag_90d", no),
	derived(GroupCoreCredit, "credit_utilization_ratio", zero),
	derived(GroupCoreCredit, "payment_history_score", zero),
	input(GroupCoreCredit, "number_of_credit_accounts", zero),
	input(GroupCoreCredit, "number_of_late_payments", zero),
	input(GroupCoreCredit, "number_of_defaults", zero),
	derived(GroupCoreCredit, "average_account_age_months", zero),
	derived(GroupCoreCredit, "oldest_account_age_months", zero),
	input(GroupCoreCredit, "new_accounts_last_6m", zero),
	input(GroupCoreCredit, "inquiries_last_6m", zero),
	input(GroupCoreCredit, "inquiries_last_12m", zero),
	derived(GroupCoreCredit, "total_credit_limit", zero),
	derived(GroupCoreCredit, "revolving_credit_limit", zero),
	derived(GroupCoreCredit, "installment_credit_limit", zero),
	derived(GroupCoreCredit, "utilization_trend_3m", zero),
	derived(GroupCoreCredit, "utilization_trend_6m", zero),
	derived(GroupCoreCredit, "worst_status_last_6m", domain.Text("Current")),
	derived(GroupCoreCredit, "worst_status_last_24m", domain.Text("Current")),
	derived(GroupCoreCredit, "collections_flag", no),
	system(GroupCoreCredit, "public_record_flag", no),
	system(GroupCoreCredit, "bankruptcy_flag", no),
	system(GroupCoreCredit, "repossession_flag", no),
	system(GroupCoreCredit, "foreclosure_flag", no),
	system(GroupCoreCredit, "tax_lien_flag", no),
	system(GroupCoreCredit, "judgment_flag", no),
	derived(GroupCoreCredit, "charge_off_flag", no),
	derived(GroupCoreCredit, "account_status_current", domain.Flag(true)),
	derived(GroupCoreCredit, "account_status_30_dpd", no),
	derived(GroupCoreCredit, "account_status_60_dpd", no),
	derived(GroupCoreCredit, "account_status_90_dpd", no),
	derived(GroupCoreCredit, "account_status_default", no),
	system(GroupCoreCredit, "tenure_with_akafay_months", zero),
	system(GroupCoreCredit, "prior_loans_count_akafay", zero),
	system(GroupCoreCredit, "prior_rollover_count_akafay", zero),

	// Affordability and obligations
	input(GroupAffordability, "monthly_income_etb", zero),
	input(GroupAffordability, "monthly_expenses_etb", zero),
	derived(GroupAffordability, "net_monthly_income_etb", zero),
	derived(GroupAffordability, "disposable_income", zero),
	derived(GroupAffordability, "debt_to_income_ratio", zero),
	derived(GroupAffordability, "affordability_ratio", zero),
	derived(GroupAffordability, "savings_rate", zero),
	input(GroupAffordability, "savings_balance_etb", zero),
	input(GroupAffordability, "checking_balance_etb", zero),
	derived(GroupAffordability, "total_liquid_assets_etb", zero),
	input(GroupAffordability, "total_debt_etb", zero),
	input(GroupAffordability, "existing_loan_payments_etb", zero),
	input(GroupAffordability, "other_monthly_obligations_etb", zero),
	derived(GroupAffordability, "installment_to_income_ratio", zero),
	derived(GroupAffordability, "residual_income_etb", zero),
	derived(GroupAffordability, "disposable_income_ratio", zero),
	derived(GroupAffordability, "savings_ratio", zero),
	derived(GroupAffordability, "expense_to_income_ratio", zero),
	derived(GroupAffordability, "debt_service_coverage_ratio", zero),
	derived(GroupAffordability, "fixed_obligations_etb", zero),
	derived(GroupAffordability, "variable_obligations_etb", zero),
	derived(GroupAffordability, "total_monthly_obligations_etb", zero),
	derived(GroupAffordability, "available_cash_flow_etb", zero),
	derived(GroupAffordability, "collateral_coverage_ratio", domain.Number(1)),
	derived(GroupAffordability, "scheduled_monthly_debt_service", zero),
	derived(GroupAffordability, "affordability_buffer_ratio", zero),
	derived(GroupAffordability, "affordability_stress_pass", no),
	derived(GroupAffordability, "cash_buffer_days", zero),

	// Bank and mobile money
	system(GroupBankMobileMoney, "primary_bank_tenure_months", zero),
	system(GroupBankMobileMoney, "mobile_money_account_age_months", zero),
	derived(GroupBankMobileMoney, "bank_avg_balance_3m", zero),
	input(GroupBankMobileMoney, "mobile_money_balance", zero),
	system(GroupBankMobileMoney, "bank_transaction_count_30d", zero),
	system(GroupBankMobileMoney, "bank_transaction_count_90d", zero),
	system(GroupBankMobileMoney, "mobile_money_transaction_count_30d", zero),
	system(GroupBankMobileMoney, "mobile_money_transaction_count_90d", zero),
	derived(GroupBankMobileMoney, "bank_inflow_3m", zero),
	derived(GroupBankMobileMoney, "bank_outflow_3m", zero),
	derived(GroupBankMobileMoney, "net_flow_3m", zero),
	derived(GroupBankMobileMoney, "bank_account_status", unknown),
	derived(GroupBankMobileMoney, "mobile_money_status", unknown),
	derived(GroupBankMobileMoney, "salary_inflow_consistency_score", domain.Number(50)),
	input(GroupBankMobileMoney, "direct_deposit_flag", no),
	derived(GroupBankMobileMoney, "end_of_month_cash_crunch_indicator", no),
	derived(GroupBankMobileMoney, "salary_deposit_count_6m", zero),
	system(GroupBankMobileMoney, "nsf_count_6m", zero),
	system(GroupBankMobileMoney, "overdraft_usage_days_90d", zero),
	system(GroupBankMobileMoney, "utility_on_time_rate_12m", domain.Number(0.95)),

	// Identity and fraud
	system(GroupIdentityFraud, "fayda_verification_status", unknown),
	system(GroupIdentityFraud, "kyc_level", unknown),
	system(GroupIdentityFraud, "pep_or_sanctions_hit_flag", no),
	derived(GroupIdentityFraud, "source_of_income_verified_flag", no),
	system(GroupIdentityFraud, "is_device_emulator", no),
	system(GroupIdentityFraud, "device_compromise_status", unknown),
	system(GroupIdentityFraud, "session_behavior_anomaly_score", zero),
	system(GroupIdentityFraud, "sim_swap_recent_flag", no),
	system(GroupIdentityFraud, "biometric_liveness_check_status", unknown),
	system(GroupIdentityFraud, "application_velocity_user_30d", zero),
	system(GroupIdentityFraud, "identity_mismatch_types_count", zero),
	system(GroupIdentityFraud, "fraud_score", zero),
	system(GroupIdentityFraud, "suspicious_activity_flag", no),
	input(GroupIdentityFraud, "id_number", empty),
	input(GroupIdentityFraud, "phone_number", empty),
	system(GroupIdentityFraud, "id_verification_status", unknown),
	system(GroupIdentityFraud, "phone_verification_status", unknown),
	derived(GroupIdentityFraud, "id_number_format_valid_flag", no),
	derived(GroupIdentityFraud, "phone_number_format_valid_flag", no),
	derived(GroupIdentityFraud, "address_verification_flag", no),

	// Personal and professional stability
	input(GroupPersonal, "age", zero),
	input(GroupPersonal, "employment_status", domain.Text(string(domain.EmploymentEmployed))),
	derived(GroupPersonal, "employment_segment", domain.Text("Salaried")),
	input(GroupPersonal, "years_in_profession", zero),
	input(GroupPersonal, "employer_name", empty),
	derived(GroupPersonal, "employment_stability_score", domain.Number(0.4)),
	input(GroupPersonal, "ethiopian_region", unknown),
	input(GroupPersonal, "urban_rural", domain.Text(string(domain.SettlementUrban))),
	input(GroupPersonal, "business_sector", empty),
	derived(GroupPersonal, "location_stability_score", domain.Number(40)),
	input(GroupPersonal, "years_at_current_address", zero),
	derived(GroupPersonal, "address_consistency_flag", no),
	derived(GroupPersonal, "employment_consistency_flag", no),
	input(GroupPersonal, "education_level", unknown),
	input(GroupPersonal, "marital_status", unknown),
	input(GroupPersonal, "dependents_count", zero),
	input(GroupPersonal, "guarantor_available_flag", no),
	system(GroupPersonal, "income_stability_score", domain.Number(0.7)),
	system(GroupPersonal, "employment_gap_months", zero),
	system(GroupPersonal, "job_changes_last_24m", zero),

	// Contextual and macroeconomic factors
	macro(GroupMacro, "local_economic_resilience_score", domain.Number(50)),
	macro(GroupMacro, "regional_unemployment_rate", domain.Number(5)),
	macro(GroupMacro, "inflation_rate_recent", domain.Number(15)),
	macro(GroupMacro, "sector_growth_rate", domain.Number(5)),
	macro(GroupMacro, "exchange_rate_12m_change", domain.Number(0.05)),
	macro(GroupMacro, "conflict_risk_index", domain.Number(30)),
	macro(GroupMacro, "drought_flood_index", domain.Number(25)),
	macro(GroupMacro, "energy_blackout_days_90d", domain.Number(5)),
	macro(GroupMacro, "remittance_dependency_score", domain.Number(30)),
	derived(GroupMacro, "agricultural_dependency_score", domain.Number(20)),

	// Product specific intelligence
	input(GroupProduct, "product_type", domain.Text("PersonalLoan")),
	derived(GroupProduct, "loan_to_income_ratio_lti", zero),
	derived(GroupProduct, "debt_service_to_income_ratio_dsti", zero),
	derived(GroupProduct, "collateral_type", domain.Text("None")),
	input(GroupProduct, "collateral_appraised_value_etb", zero),
	derived(GroupProduct, "loan_to_value_ratio_ltv", domain.Number(1)),
	derived(GroupProduct, "collateral_liquidity_tier", domain.Text("None")),
	derived(GroupProduct, "client_payment_days_late_avg", zero),
	derived(GroupProduct, "guarantor_experience_score", zero),
	system(GroupProduct, "relationship_strength_proxy", domain.Number(50)),

	// Business and receivables finance
	input(GroupBusiness, "years_in_business", zero),
	system(GroupBusiness, "industry_risk_score", zero),
	system(GroupBusiness, "merchant_revenue_share_top_3", zero),
	system(GroupBusiness, "seasonality_index_12m", zero),

	// Behavioral intelligence
	system(GroupBehavioral, "financial_literacy_score", domain.Number(60)),
	system(GroupBehavioral, "risk_tolerance_score", domain.Number(50)),
	derived(GroupBehavioral, "behavioral_consistency_score", zero),
	system(GroupBehavioral, "social_network_centrality_score", domain.Number(50)),
	derived(GroupBehavioral, "microfinance_engagement_score", domain.Number(50)),
	system(GroupBehavioral, "cooperative_membership_score", domain.Number(50)),
	derived(GroupBehavioral, "conscientiousness_score", zero),
	derived(GroupBehavioral, "savings_behavior_score", domain.Number(40)),
	derived(GroupBehavioral, "indicative_risk_level", domain.Text("High")),

	// Model governance and monitoring
	system(GroupGovernance, "model_version", domain.Text("v4.0")),
	system(GroupGovernance, "data_quality_score", domain.Number(90)),
	system(GroupGovernance, "imputation_policy_id", domain.Text("default_v1")),
	system(GroupGovernance, "segment_routing_policy_id", domain.Text("default_segment_policy")),
	system(GroupGovernance, "data_freshness_days_max", zero),
}

var (
	byName     = make(map[string]Feature, len(catalog))
	groupOrder []string
)

func init() {
	for _, f := range catalog {
		if _, dup := byName[f.Name]; dup {
			panic("features: duplicate catalog entry " + f.Name)
		}
		byName[f.Name] = f
	}
	groupOrder = orderGroups(catalog)
}

// orderGroups lists each group once, in order of first appearance.
func orderGroups(fs []Feature) []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range fs {
		if !seen[f.Group] {
			seen[f.Group] = true
			out = append(out, f.Group)
		}
	}
	return out
}

// Catalog returns a copy of the feature contract in wire order.
func Catalog() []Feature {
	out := make([]Feature, len(catalog))
	copy(out, catalog)
	return out
}

// Size is the number of features in the contract.
func Size() int { return len(catalog) }

// Lookup returns the catalog entry for name.
func Lookup(name string) (Feature, bool) {
	f, ok := byName[name]
	return f, ok
}

// Groups returns the wire group names in order.
func Groups() []string {
	out := make([]string, len(groupOrder))
	copy(out, groupOrder)
	return out
}
