package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantID   FlexibleID
		wantName string
		wantRole Role
	}{
		{
			name:     "lowercase fields and numeric id",
			payload:  `{"id": 42, "email": "meera@example.com", "firstname": "Meera", "lastname": "Rao", "usertype": "admin"}`,
			wantID:   "42",
			wantName: "Meera Rao",
			wantRole: RoleAdmin,
		},
		{
			name:     "camel case fields and mongo id",
			payload:  `{"_id": "66aa", "email": "arun@example.com", "firstName": "Arun", "lastName": "K", "role": "student"}`,
			wantID:   "66aa",
			wantName: "Arun K",
			wantRole: RoleUser,
		},
		{
			name:     "no names falls back to email",
			payload:  `{"id": "u1", "email": "lotus@example.com"}`,
			wantID:   "u1",
			wantName: "lotus",
			wantRole: RoleUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Account
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &a))
			assert.Equal(t, tt.wantID, a.ID)
			assert.Equal(t, tt.wantName, a.DisplayName())
			assert.Equal(t, tt.wantRole, a.Role())
		})
	}
}

func TestFlexibleID_Rejects(t *testing.T) {
	var id FlexibleID
	err := json.Unmarshal([]byte(`{"nested":true}`), &id)
	var te *TransformationError
	assert.ErrorAs(t, err, &te)
}

func TestIdentityRecord_RoundTrip(t *testing.T) {
	now := time.UnixMilli(1760000000123)
	s := &UserSession{
		ID:          "42",
		Email:       "meera@example.com",
		DisplayName: "Meera Rao",
		BearerToken: "secret-token",
		Role:        RoleAdmin,
		LastUpdated: now,
		SessionID:   "sess-1",
	}

	raw, err := json.Marshal(s.Record())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")
	assert.JSONEq(t, `{"id":"42","email":"meera@example.com","name":"Meera Rao","lastUpdated":1760000000123,"sessionId":"sess-1"}`, string(raw))

	var rec IdentityRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	back := rec.Session("secret-token")
	assert.Equal(t, s.ID, back.ID)
	assert.Equal(t, s.Email, back.Email)
	assert.Equal(t, s.DisplayName, back.DisplayName)
	assert.Equal(t, s.BearerToken, back.BearerToken)
	assert.True(t, now.Equal(back.LastUpdated))
}

func TestAccount_Phone10(t *testing.T) {
	assert.Equal(t, "9876543210", Account{Phone: "+91 98765 43210"}.Phone10())
	assert.Equal(t, "12345", Account{Phone: "12-345"}.Phone10())
}

func TestFieldErrors(t *testing.T) {
	fe := FieldErrors{"phone": "enter a valid mobile number", "email": "enter a valid email"}
	assert.Equal(t, "validation failed: email: enter a valid email; phone: enter a valid mobile number", fe.Error())

	var ve *ValidationError
	require.True(t, errors.As(error(fe), &ve))
	assert.Equal(t, "email", ve.Field)
	assert.Equal(t, "enter a valid email", ve.Message())
}

func TestStorageError(t *testing.T) {
	base := errors.New("disk full")
	err := NewStorageError("durable", base)
	assert.True(t, IsStorageError(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsStorageError(base))
}
