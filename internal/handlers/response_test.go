package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digimart/backend/internal/services"
)

type testPayload struct {
	Name  string `json:"name" validate:"required,min=2"`
	Email string `json:"email" validate:"required,email"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	assert.NoError(t, vh.ValidateStruct(&testPayload{Name: "Ada", Email: "ada@example.com"}))

	err := vh.ValidateStruct(&testPayload{Name: "A", Email: "nope"})
	var fieldErrs validator.ValidationErrors
	require.True(t, errors.As(err, &fieldErrs))
	assert.Len(t, fieldErrs, 2)
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		resp := decodeError(t, w)
		assert.Equal(t, "Something went wrong", resp.Error)
		assert.Nil(t, resp.Details)
	})

	t.Run("with validation errors", func(t *testing.T) {
		err := NewValidationHelper().ValidateStruct(&testPayload{Name: "A", Email: "nope"})

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)

		resp := decodeError(t, w)
		assert.Contains(t, resp.Details, "Name")
		assert.Contains(t, resp.Details, "Email")
	})

	t.Run("non validator error is not expanded", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Bad", http.StatusBadRequest, errors.New("plain"))
		assert.Nil(t, decodeError(t, w).Details)
	})
}

func TestDecodeJSON(t *testing.T) {
	vh := NewValidationHelper()

	cases := []struct {
		name string
		body string
		ok   bool
		msg  string
	}{
		{"valid", `{"name":"Ada","email":"ada@example.com"}`, true, ""},
		{"unknown field", `{"name":"Ada","email":"ada@example.com","admin":true}`, false, "Invalid request body"},
		{"two objects", `{"name":"Ada","email":"ada@example.com"}{}`, false, "Request body must only contain a single JSON object"},
		{"fails validation", `{"name":"A","email":"ada@example.com"}`, false, "Validation failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))

			var dst testPayload
			assert.Equal(t, tc.ok, decodeJSON(w, r, vh, &dst))
			if !tc.ok {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Equal(t, tc.msg, decodeError(t, w).Error)
			}
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&services.ValidationError{Field: "amount", Message: "too small"}, http.StatusBadRequest},
		{fmt.Errorf("order x: %w", services.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("debit: %w", services.ErrInsufficientBalance), http.StatusUnprocessableEntity},
		{fmt.Errorf("wd: %w", services.ErrInvalidTransition), http.StatusConflict},
		{services.ErrVerificationInProgress, http.StatusConflict},
		{fmt.Errorf("wd: %w", services.ErrPayoutInFlight), http.StatusConflict},
		{fmt.Errorf("wd: %w", services.ErrPayoutAfterReversal), http.StatusConflict},
		{services.ErrGrantUnavailable, http.StatusGone},
		{&services.ExternalServiceError{Service: "paystack", Err: errors.New("timeout")}, http.StatusBadGateway},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		writeServiceError(w, httptest.NewRequest(http.MethodGet, "/x", nil), tc.err)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
	}

	w := httptest.NewRecorder()
	writeServiceError(w, httptest.NewRequest(http.MethodGet, "/x", nil), errors.New("pq: password authentication failed"))
	assert.Equal(t, "Internal server error", decodeError(t, w).Error)
}
