package repositories

import "fmt"

// GoodsWriteErrorCode enumerates reasons a goods submission is rejected by the store.
type GoodsWriteErrorCode string

const (
	// GoodsWriteShipmentMissing indicates the submission targets a shipment that no longer exists.
	GoodsWriteShipmentMissing GoodsWriteErrorCode = "goods_shipment_missing"
	// GoodsWriteServiceMissing indicates an updated or deleted service is no longer stored.
	GoodsWriteServiceMissing GoodsWriteErrorCode = "goods_service_missing"
	// GoodsWriteBarcodeTaken indicates a new service reuses a barcode already stored on the shipment.
	GoodsWriteBarcodeTaken GoodsWriteErrorCode = "goods_barcode_taken"
)

// GoodsWriteError carries a rejection whose Message can be shown to the operator verbatim.
type GoodsWriteError struct {
	Op      string
	Code    GoodsWriteErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *GoodsWriteError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *GoodsWriteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewGoodsWriteError constructs a typed goods write error.
func NewGoodsWriteError(code GoodsWriteErrorCode, message string, err error) *GoodsWriteError {
	if message == "" {
		message = string(code)
	}
	return &GoodsWriteError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
