// Package att holds the ATT result codes a peer answers write requests with.
package att

import (
	"errors"
	"fmt"
)

// Code is an ATT result code (Bluetooth Core Spec v5.3 Vol 3, Part F, Section 3.4.1.1)
type Code uint8

const (
	Success                  Code = 0x00
	ErrInvalidHandle         Code = 0x01
	ErrReadNotPermitted      Code = 0x02
	ErrWriteNotPermitted     Code = 0x03
	ErrInvalidPDU            Code = 0x04
	ErrRequestNotSupported   Code = 0x06
	ErrAttributeNotFound     Code = 0x0A
	ErrInvalidValueLength    Code = 0x0D
	ErrUnlikelyError         Code = 0x0E
	ErrInsufficientResources Code = 0x11

	// Application Error codes (0x80 - 0x9F)
	ErrApplicationErrorStart Code = 0x80
	ErrApplicationErrorEnd   Code = 0x9F

	ErrWriteRequestRejected Code = 0xFC
	ErrOutOfRange           Code = 0xFF
)

// Names maps result codes to human-readable names
var Names = map[Code]string{
	Success:                  "Success",
	ErrInvalidHandle:         "Invalid Handle",
	ErrReadNotPermitted:      "Read Not Permitted",
	ErrWriteNotPermitted:     "Write Not Permitted",
	ErrInvalidPDU:            "Invalid PDU",
	ErrRequestNotSupported:   "Request Not Supported",
	ErrAttributeNotFound:     "Attribute Not Found",
	ErrInvalidValueLength:    "Invalid Attribute Value Length",
	ErrUnlikelyError:         "Unlikely Error",
	ErrInsufficientResources: "Insufficient Resources",
	ErrWriteRequestRejected:  "Write Request Rejected",
	ErrOutOfRange:            "Out of Range",
}

// String returns the name of the code
func (c Code) String() string {
	if name, ok := Names[c]; ok {
		return name
	}
	if c >= ErrApplicationErrorStart && c <= ErrApplicationErrorEnd {
		return fmt.Sprintf("Application Error (0x%02X)", uint8(c))
	}
	return fmt.Sprintf("Unknown Error (0x%02X)", uint8(c))
}

// Error is a non-success ATT response to a read or write
type Error struct {
	Code      Code
	Operation string // "read" or "write"
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("ATT Error: %s", e.Code)
	}
	return fmt.Sprintf("ATT Error: %s (%s)", e.Code, e.Operation)
}

// NewError creates a new ATT error
func NewError(code Code, operation string) *Error {
	return &Error{Code: code, Operation: operation}
}

// IsATTError checks if an error is an ATT error with a specific code
func IsATTError(err error, code Code) bool {
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Code == code
	}
	return false
}

// GetErrorCode returns the ATT code carried by err, Success for nil and
// ErrUnlikelyError for errors that are not ATT errors
func GetErrorCode(err error) Code {
	if err == nil {
		return Success
	}
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Code
	}
	return ErrUnlikelyError
}
