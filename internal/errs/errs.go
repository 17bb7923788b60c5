// Package errs defines the business error codes returned by the bridge and the
// HTTP status each one maps to.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups codes by how callers are expected to react to them.
type Kind int

const (
	KindSubsystem Kind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindNotFound
	KindCrypto
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindCrypto:
		return "crypto"
	default:
		return "subsystem"
	}
}

// Code is a stable numeric error code. The broker reports the same numbering
// in its errorCode field.
type Code int

const (
	CodeImplementation Code = 100
	CodeUnreachable    Code = 102
	CodeGeneral        Code = 103

	CodeConfigNotValid     Code = 301
	CodeInvalidConfigInput Code = 302
	CodeInvalidAlgorithm   Code = 303

	CodeInvalidCryptoFile   Code = 401
	CodeInvalidSignature    Code = 403
	CodeParsingKey          Code = 407
	CodeReadingPEM          Code = 408
	CodeParsingCertificate  Code = 409
	CodeClientSubscription  Code = 450
	CodeInvalidValueForEnum Code = 501

	CodeInputValidationFailed   Code = 600
	CodeKeyAlreadyExisting      Code = 608
	CodeInvalidUUID             Code = 609
	CodeInvalidKeyName          Code = 610
	CodeOperationForbidden      Code = 614
	CodeDataObjectAlreadyExists Code = 615
	CodeInvalidAccessToken      Code = 617
	CodeInvalidJSON             Code = 621
	CodeInvalidAPIKey           Code = 631
	CodeKeyNotExistent          Code = 650
	CodeRequestNotExistent      Code = 651

	CodeInSubsystem  Code = 700
	CodeInHSM        Code = 701
	CodeIO           Code = 703
	CodeFileNotFound Code = 704
)

type codeInfo struct {
	reason string
	kind   Kind
	status int
}

var codes = map[Code]codeInfo{
	CodeImplementation: {"res.error.implementation", KindSubsystem, http.StatusNotImplemented},
	CodeUnreachable:    {"res.error.unreachable", KindSubsystem, http.StatusNotImplemented},
	CodeGeneral:        {"res.error.general", KindSubsystem, http.StatusNotImplemented},

	CodeConfigNotValid:     {"res.error.config.not.valid", KindValidation, http.StatusInternalServerError},
	CodeInvalidConfigInput: {"res.error.invalid.config.input", KindValidation, http.StatusInternalServerError},
	CodeInvalidAlgorithm:   {"res.error.invalid.algorithm", KindValidation, http.StatusInternalServerError},

	CodeInvalidCryptoFile:   {"res.error.invalid.crypto.file", KindCrypto, http.StatusBadRequest},
	CodeInvalidSignature:    {"res.error.invalid.signature", KindCrypto, http.StatusBadRequest},
	CodeParsingKey:          {"res.error.parsing.key", KindCrypto, http.StatusBadRequest},
	CodeReadingPEM:          {"res.error.reading.pem", KindCrypto, http.StatusBadRequest},
	CodeParsingCertificate:  {"res.error.parsing.certificate", KindCrypto, http.StatusBadRequest},
	CodeClientSubscription:  {"res.error.client.subscription", KindAuthorization, http.StatusForbidden},
	CodeInvalidValueForEnum: {"res.error.invalid.value.for.enum", KindValidation, http.StatusInternalServerError},

	CodeInputValidationFailed:   {"res.error.input.validation.failed", KindValidation, http.StatusBadRequest},
	CodeKeyAlreadyExisting:      {"res.error.key.already.existing", KindConflict, http.StatusBadRequest},
	CodeInvalidUUID:             {"res.error.invalid.uuid", KindValidation, http.StatusBadRequest},
	CodeInvalidKeyName:          {"res.error.invalid.key.name", KindValidation, http.StatusBadRequest},
	CodeOperationForbidden:      {"res.error.operation.forbidden", KindAuthorization, http.StatusBadRequest},
	CodeDataObjectAlreadyExists: {"res.error.data.object.already.existing", KindConflict, http.StatusBadRequest},
	CodeInvalidAccessToken:      {"res.error.invalid.access.token", KindAuthorization, http.StatusBadRequest},
	CodeInvalidJSON:             {"res.error.invalid.json", KindValidation, http.StatusBadRequest},
	CodeInvalidAPIKey:           {"res.error.invalid.api.key", KindAuthorization, http.StatusBadRequest},
	CodeKeyNotExistent:          {"res.error.key.not.existent", KindNotFound, http.StatusNotFound},
	CodeRequestNotExistent:      {"res.error.request.not.existent", KindNotFound, http.StatusNotFound},

	CodeInSubsystem:  {"res.error.in.subsystem", KindSubsystem, http.StatusInternalServerError},
	CodeInHSM:        {"res.error.in.hsm", KindSubsystem, http.StatusInternalServerError},
	CodeIO:           {"res.error.io", KindSubsystem, http.StatusInternalServerError},
	CodeFileNotFound: {"res.error.file.not.found", KindSubsystem, http.StatusInternalServerError},
}

// Reason returns the reason string for the code, or an empty string when unknown.
func (c Code) Reason() string {
	return codes[c].reason
}

// Kind returns the error category of the code. Unknown codes are subsystem errors.
func (c Code) Kind() Kind {
	info, ok := codes[c]
	if !ok {
		return KindSubsystem
	}
	return info.kind
}

// HTTPStatus returns the response status for the code. Unknown codes map to 500.
func (c Code) HTTPStatus() int {
	info, ok := codes[c]
	if !ok {
		return http.StatusInternalServerError
	}
	return info.status
}

// Error is a business error carrying a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given code and formatted message.
func New(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given code that wraps err.
func Wrap(code Code, err error, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// HTTPStatus returns the response status for err. Errors without a code map to 500.
func HTTPStatus(err error) int {
	code, ok := CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	return code.HTTPStatus()
}

func kindOf(err error) (Kind, bool) {
	code, ok := CodeOf(err)
	if !ok {
		return 0, false
	}
	return code.Kind(), true
}

func isKind(err error, kind Kind) bool {
	k, ok := kindOf(err)
	return ok && k == kind
}

func IsValidation(err error) bool    { return isKind(err, KindValidation) }
func IsAuthorization(err error) bool { return isKind(err, KindAuthorization) }
func IsConflict(err error) bool      { return isKind(err, KindConflict) }
func IsNotFound(err error) bool      { return isKind(err, KindNotFound) }
func IsSubsystem(err error) bool     { return isKind(err, KindSubsystem) }
func IsCrypto(err error) bool        { return isKind(err, KindCrypto) }
