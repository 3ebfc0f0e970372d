package catalog

import (
	"fmt"
	"strings"
)

func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.SKU) == "" {
		return fmt.Errorf("%w: sku is required", ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.Price.IsNegative() || in.Cost.IsNegative() {
		return fmt.Errorf("%w: price and cost cannot be negative", ErrValidation)
	}
	return validateStockBounds(in.MinStock, in.MaxStock)
}

func validateUpdate(in UpdateInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.Price.IsNegative() || in.Cost.IsNegative() {
		return fmt.Errorf("%w: price and cost cannot be negative", ErrValidation)
	}
	return validateStockBounds(in.MinStock, in.MaxStock)
}

func validateStockBounds(minStock, maxStock int64) error {
	if minStock < 0 || maxStock < 0 {
		return fmt.Errorf("%w: stock bounds cannot be negative", ErrValidation)
	}
	if maxStock > 0 && minStock > maxStock {
		return fmt.Errorf("%w: min_stock exceeds max_stock", ErrValidation)
	}
	return nil
}
