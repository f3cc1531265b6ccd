package igauth

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-igauth/tokencrypt"
)

// Text codes carried by the sentinel errors.
const (
	TextCodeConfiguration     = "igauth_configuration"
	TextCodeInvalidState      = "igauth_invalid_state"
	TextCodeStateMissing      = "igauth_state_missing"
	TextCodeStateMismatch     = "igauth_state_mismatch"
	TextCodeStateExpired      = "igauth_state_expired"
	TextCodeStateReused       = "igauth_state_reused"
	TextCodeProviderDenied    = "igauth_provider_denied"
	TextCodeMissingCallback   = "igauth_missing_callback_params"
	TextCodeExchangeFailed    = "igauth_token_exchange_failed"
	TextCodeUpgradeFailed     = "igauth_token_upgrade_failed"
	TextCodeRefreshFailed     = "igauth_token_refresh_failed"
	TextCodeProfileFailed     = "igauth_profile_fetch_failed"
	TextCodeUpgradeDegraded   = "igauth_upgrade_degraded"
	TextCodeProfileDegraded   = "igauth_profile_degraded"
	TextCodeIdentityMissing   = "igauth_identity_missing"
	TextCodePersistence       = "igauth_persistence_failed"
	TextCodeAccountNotFound   = "igauth_account_not_found"
	TextCodeTokenExpired      = "igauth_token_expired"
	TextCodeInvalidTransition = "igauth_invalid_flow_transition"
)

// ErrConfiguration marks missing or malformed configuration.
var ErrConfiguration = goerrors.New("configuration error", goerrors.CategoryValidation).
	WithTextCode(TextCodeConfiguration).
	WithCode(goerrors.CodeInternal)

// ConfigError names the offending configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ErrConfiguration.Message
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrConfiguration.Message, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// ErrCSRF is the root of every state validation failure.
var ErrCSRF = goerrors.New("invalid state (CSRF check failed)", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(goerrors.CodeBadRequest)

var (
	// ErrStateMissing is returned when no issued state accompanies the callback.
	ErrStateMissing = derive(ErrCSRF, "no state was issued", TextCodeStateMissing)

	// ErrStateMismatch is returned when the presented state differs from the
	// issued one.
	ErrStateMismatch = derive(ErrCSRF, "state mismatch", TextCodeStateMismatch)

	// ErrStateReused is returned when a state carrier is redeemed twice.
	ErrStateReused = derive(ErrCSRF, "state already used", TextCodeStateReused)

	// ErrStateExpired is returned when the issued state outlived its TTL.
	ErrStateExpired = derive(ErrCSRF, "state expired", TextCodeStateExpired)
)

// ErrProviderDenied is returned when the provider redirected back with an error.
var ErrProviderDenied = goerrors.New("authorization denied by provider", goerrors.CategoryAuth).
	WithTextCode(TextCodeProviderDenied).
	WithCode(goerrors.CodeBadRequest)

// ErrMissingCallbackParams is returned when code or state is absent.
var ErrMissingCallbackParams = goerrors.New("missing code or state", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMissingCallback).
	WithCode(goerrors.CodeBadRequest)

// Provider operations.
const (
	OpExchange = "exchange"
	OpUpgrade  = "upgrade"
	OpRefresh  = "refresh"
	OpProfile  = "profile"
)

// Classifiers matched by ProviderError.Is. A ProviderError carries no HTTP
// code of its own, so provider failures surface as 500.
var (
	ErrExchangeFailed = goerrors.New("token exchange failed", goerrors.CategoryExternal).
		WithTextCode(TextCodeExchangeFailed)

	ErrUpgradeFailed = goerrors.New("long-lived token upgrade failed", goerrors.CategoryExternal).
		WithTextCode(TextCodeUpgradeFailed)

	ErrRefreshFailed = goerrors.New("token refresh failed", goerrors.CategoryExternal).
		WithTextCode(TextCodeRefreshFailed)

	ErrProfileFailed = goerrors.New("profile fetch failed", goerrors.CategoryExternal).
		WithTextCode(TextCodeProfileFailed)
)

// Warnings recorded on a completed flow. They are never returned as the flow error.
var (
	ErrUpgradeDegraded = goerrors.NewWarning("long-lived upgrade failed, continuing with short-lived token", goerrors.CategoryExternal).
		WithTextCode(TextCodeUpgradeDegraded)

	ErrProfileDegraded = goerrors.NewWarning("profile fetch failed, continuing with known account id", goerrors.CategoryExternal).
		WithTextCode(TextCodeProfileDegraded)
)

// ErrIdentityMissing is returned when no external account id could be obtained.
var ErrIdentityMissing = goerrors.New("external account id is missing", goerrors.CategoryExternal).
	WithTextCode(TextCodeIdentityMissing).
	WithCode(goerrors.CodeInternal)

// ErrPersistence marks credential store failures.
var ErrPersistence = goerrors.New("credential persistence failed", goerrors.CategoryInternal).
	WithTextCode(TextCodePersistence).
	WithCode(goerrors.CodeInternal)

// ErrAccountNotFound is returned when no account matches the external id.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTokenExpired is returned by the token gateway when the stored token is past expiry.
var ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrDecryption is returned when stored token material does not authenticate.
var ErrDecryption = tokencrypt.ErrDecryption

// derive returns a sentinel that unwraps to parent and shares its category
// and code.
func derive(parent *goerrors.Error, detail, textCode string) *goerrors.Error {
	child := parent.Clone()
	child.Message = parent.Message + ": " + detail
	child.TextCode = textCode
	child.Source = parent
	return child
}

// withDetail clones base with detail appended to its message. The result
// still matches base through errors.Is.
func withDetail(base *goerrors.Error, detail string) error {
	if detail == "" {
		return base
	}
	return derive(base, detail, base.TextCode)
}

// ProviderError captures normalized provider response details.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	} else if e.Operation != "" {
		scope = e.Operation
	}

	status := ""
	if e.Status != 0 {
		status = fmt.Sprintf(" (status %d)", e.Status)
	}

	if e.Description != "" {
		return fmt.Sprintf("%s failed%s: %s", scope, status, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed%s: %s", scope, status, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed%s: %v", scope, status, e.Err)
	}

	return fmt.Sprintf("%s failed%s", scope, status)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the operation sentinel, so errors.Is(err, ErrExchangeFailed)
// holds for any exchange failure.
func (e *ProviderError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch e.Operation {
	case OpExchange:
		return target == ErrExchangeFailed
	case OpUpgrade:
		return target == ErrUpgradeFailed
	case OpRefresh:
		return target == ErrRefreshFailed
	case OpProfile:
		return target == ErrProfileFailed
	}
	return false
}

// Metadata returns loggable fields. It never includes token material.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// PersistenceError wraps a storage failure with the failing operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ErrPersistence.Message
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrPersistence.Message, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrPersistence.Message, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrPersistence}
	}
	// The cause comes first so a more specific code, such as
	// ErrAccountNotFound, wins in HTTPStatus.
	return []error{e.Err, ErrPersistence}
}

// HTTPStatus maps an error to the status code used by the JSON endpoints:
// the first code carried by a go-errors value in the chain, or 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rich *goerrors.Error
	for next := err; goerrors.As(next, &rich); next = rich.Unwrap() {
		if rich.Code != 0 {
			return rich.Code
		}
	}
	return http.StatusInternalServerError
}

// SafeReason renders err for a user visible redirect. Decryption and
// configuration failures are reduced to a fixed message.
func SafeReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecryption), errors.Is(err, tokencrypt.ErrInvalidFormat):
		return "stored credential could not be decrypted"
	case errors.Is(err, ErrConfiguration), errors.Is(err, tokencrypt.ErrInvalidKey):
		return "server misconfiguration"
	case errors.Is(err, ErrPersistence):
		var perr *PersistenceError
		if errors.As(err, &perr) && perr.Op != "" {
			return "failed to save account to database: " + perr.Op
		}
		return "failed to save account to database"
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Message
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Error()
	}
	return err.Error()
}
