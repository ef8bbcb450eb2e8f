package db

import (
	"errors"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestWrapSqliteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"disk full", sqlite3.Error{Code: sqlite3.ErrFull}, ErrQuotaExceeded},
		{"row too big", sqlite3.Error{Code: sqlite3.ErrTooBig}, ErrQuotaExceeded},
		{"read only", sqlite3.Error{Code: sqlite3.ErrReadonly}, ErrReadOnly},
		{"locked", sqlite3.Error{Code: sqlite3.ErrBusy}, ErrBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapSqliteError("set", "userSession", tt.err)
			assert.ErrorIs(t, err, tt.want)

			var se *StoreError
			if assert.ErrorAs(t, err, &se) {
				assert.Equal(t, "set", se.Op)
				assert.Equal(t, "userSession", se.Key)
			}
		})
	}
}

func TestWrapSqliteError_Unclassified(t *testing.T) {
	base := errors.New("connection reset")
	err := WrapSqliteError("get", "k", base)
	assert.ErrorIs(t, err, base)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, `get "k": connection reset`, err.Error())

	assert.NoError(t, WrapSqliteError("get", "k", nil))
}
