package pipeline

import (
	"github.com/dvloznov/txn-tidy/internal/domain"
)

// CategoryValidator is the single place a proposed category is checked
// against the catalog before anything is written.
type CategoryValidator struct {
	catalog  *domain.Catalog
	fallback string
}

// NewCategoryValidator creates a validator for one run's catalog.
func NewCategoryValidator(catalog *domain.Catalog, fallback string) *CategoryValidator {
	return &CategoryValidator{catalog: catalog, fallback: fallback}
}

// Validate returns proposed when it is a verbatim catalog member, otherwise
// the fallback category. Comparison is case-sensitive with no trimming.
func (v *CategoryValidator) Validate(proposed string) string {
	if v.catalog.Contains(proposed) {
		return proposed
	}
	return v.fallback
}

// IsSubstitution reports whether Validate would replace proposed.
func (v *CategoryValidator) IsSubstitution(proposed string) bool {
	return !v.catalog.Contains(proposed)
}

// Fallback returns the category used for rejected proposals.
func (v *CategoryValidator) Fallback() string {
	return v.fallback
}
