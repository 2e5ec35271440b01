package orders

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrGateway            = errors.New("payment gateway error")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("order already exists")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrVersionConflict    = errors.New("order modified concurrently")
)

// InsufficientStockError names the line that could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }
