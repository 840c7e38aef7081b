// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import "fmt"

// ValidationError describes an anomaly found in a decoded record
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateRecord reports the anomalies carried by a record.
// Returns a slice of validation errors (empty if the record is clean)
func ValidateRecord(r Record) []ValidationError {
	errors := []ValidationError{}

	details := map[string]interface{}{
		"title": string(r.Title),
		"field": r.Field,
		"hex":   r.Hex,
		"start": r.Start,
	}

	switch r.Anomaly {
	case AnomalyNone:
		return errors
	case AnomalyChecksumMismatch:
		errors = append(errors, ValidationError{
			Type:    r.Anomaly,
			Message: fmt.Sprintf("%s %s checksum mismatch", r.Title, r.Field),
			Details: details,
		})
	case AnomalyUnknownCode:
		errors = append(errors, ValidationError{
			Type:    r.Anomaly,
			Message: fmt.Sprintf("%s %s unknown code %s: %s", r.Title, r.Field, r.Hex, r.Value),
			Details: details,
		})
	case AnomalyStructuralAmbiguity:
		details["length"] = len(r.Raw)
		errors = append(errors, ValidationError{
			Type:    r.Anomaly,
			Message: fmt.Sprintf("%d bytes fit no APDU case", len(r.Raw)),
			Details: details,
		})
	case AnomalyPPSAnswerMismatch:
		errors = append(errors, ValidationError{
			Type:    r.Anomaly,
			Message: fmt.Sprintf("PPS answer %s does not confirm the request", r.Field),
			Details: details,
		})
	default:
		errors = append(errors, ValidationError{
			Type:    r.Anomaly,
			Message: fmt.Sprintf("%s %s: %s (%s)", r.Title, r.Field, r.Value, r.Anomaly),
			Details: details,
		})
	}

	return errors
}
