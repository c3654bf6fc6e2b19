package models

import "fmt"

// AllocationFamily selects how a payment is split between interest and
// principal across installments.
type AllocationFamily string

const (
	// AllocationHeavensFamily pays principal first on advance payments and
	// waives the interest of installments settled early.
	AllocationHeavensFamily AllocationFamily = "heavensfamily"
	// AllocationCreocore pays interest first in every timing case.
	AllocationCreocore AllocationFamily = "creocore"
	// AllocationStandard uses the template behaviour without overrides.
	AllocationStandard AllocationFamily = "standard"
)

// AllocationFamilies lists every supported family.
var AllocationFamilies = []AllocationFamily{AllocationHeavensFamily, AllocationCreocore, AllocationStandard}

// ParseAllocationFamily validates a configured family name.
func ParseAllocationFamily(s string) (AllocationFamily, error) {
	for _, f := range AllocationFamilies {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid allocation family: %q", s)
}

// InterestMethod is how interest is charged on the loan.
type InterestMethod string

const (
	InterestDecliningBalance InterestMethod = "declining_balance"
	InterestFlat             InterestMethod = "flat"
)

// ParseInterestMethod validates a configured interest method.
func ParseInterestMethod(s string) (InterestMethod, error) {
	switch m := InterestMethod(s); m {
	case InterestDecliningBalance, InterestFlat:
		return m, nil
	}
	return "", fmt.Errorf("invalid interest method: %q", s)
}

// AmortizationMethod is how principal is spread over the installments.
type AmortizationMethod string

const (
	AmortizationEqualInstallments AmortizationMethod = "equal_installments"
	AmortizationEqualPrincipal    AmortizationMethod = "equal_principal"
)

// ParseAmortizationMethod validates a configured amortization method.
func ParseAmortizationMethod(s string) (AmortizationMethod, error) {
	switch m := AmortizationMethod(s); m {
	case AmortizationEqualInstallments, AmortizationEqualPrincipal:
		return m, nil
	}
	return "", fmt.Errorf("invalid amortization method: %q", s)
}
