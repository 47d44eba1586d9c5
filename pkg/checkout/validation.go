package checkout

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
)

var fieldValidator = validator.New()

// Buyer is the payer identity submitted with a checkout.
type Buyer struct {
	Name    string
	Surname string
	Email   string
	TaxID   string
}

// BuyerViolation names a rejected buyer field.
type BuyerViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidateBuyer checks the buyer fields the gateway needs and returns the
// buyer with the tax id reduced to digits.
func ValidateBuyer(buyer Buyer) (Buyer, error) {
	buyer.Name = strings.TrimSpace(buyer.Name)
	buyer.Surname = strings.TrimSpace(buyer.Surname)
	buyer.Email = strings.TrimSpace(buyer.Email)
	buyer.TaxID = NormalizeTaxID(buyer.TaxID)

	var violations []BuyerViolation
	if buyer.Name == "" {
		violations = append(violations, BuyerViolation{Field: "name", Reason: "required"})
	}
	if buyer.Email == "" {
		violations = append(violations, BuyerViolation{Field: "email", Reason: "required"})
	} else if err := fieldValidator.Var(buyer.Email, "email"); err != nil {
		violations = append(violations, BuyerViolation{Field: "email", Reason: "invalid format"})
	}
	if buyer.TaxID == "" {
		violations = append(violations, BuyerViolation{Field: "taxId", Reason: "required"})
	} else if !ValidTaxID(buyer.TaxID) {
		violations = append(violations, BuyerViolation{Field: "taxId", Reason: "invalid checksum"})
	}

	if len(violations) == 0 {
		return buyer, nil
	}
	return buyer, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid buyer data: %s", violations[0].Field)).WithDetails(map[string]any{
		"violations": violations,
	})
}

// NormalizeTaxID strips punctuation from a CPF such as 529.982.247-25.
func NormalizeTaxID(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidTaxID reports whether value is a CPF with valid check digits.
// Punctuation is ignored.
func ValidTaxID(value string) bool {
	digits := NormalizeTaxID(value)
	if len(digits) != 11 {
		return false
	}

	allSame := true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false
	}

	return checkDigit(digits[:9], 10) == int(digits[9]-'0') &&
		checkDigit(digits[:10], 11) == int(digits[10]-'0')
}

func checkDigit(digits string, weight int) int {
	sum := 0
	for _, r := range digits {
		sum += int(r-'0') * weight
		weight--
	}
	rest := (sum * 10) % 11
	if rest == 10 {
		return 0
	}
	return rest
}
