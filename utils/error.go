package utils

import "errors"

var (
	ErrorRecordNotFound = errors.New("record not found")
	ErrCompanyRequired  = errors.New("company id is required")
)
