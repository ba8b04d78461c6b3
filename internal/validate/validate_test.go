package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entryCheckout struct {
	EntryIDs []int64 `json:"entry_ids" validate:"min=1,max=20,unique,dive,gt=0"`
}

type guestFees struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
}

func TestStructPassesValidInput(t *testing.T) {
	require.NoError(t, Struct(entryCheckout{EntryIDs: []int64{1, 2}}))
	require.NoError(t, Struct(guestFees{Name: "Ada", Email: "ada@example.com"}))
}

func TestStructUsesJSONFieldNames(t *testing.T) {
	err := Struct(guestFees{Name: "Ada", Email: "nope"})
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "email", verr.Field)
	assert.Equal(t, "email must be a valid email address", verr.Message)
}

func TestStructCollectionMessages(t *testing.T) {
	err := Struct(entryCheckout{})
	require.Error(t, err)
	assert.Equal(t, "entry_ids must contain at least 1 item(s)", err.Error())

	ids := make([]int64, 21)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	err = Struct(entryCheckout{EntryIDs: ids})
	require.Error(t, err)
	assert.Equal(t, "entry_ids must contain at most 20 item(s)", err.Error())

	err = Struct(entryCheckout{EntryIDs: []int64{3, 3}})
	require.Error(t, err)
	assert.Equal(t, "entry_ids must not contain duplicates", err.Error())
}

func TestStructRequired(t *testing.T) {
	err := Struct(guestFees{Email: "ada@example.com"})
	require.Error(t, err)
	assert.Equal(t, "name is required", err.Error())
}

func TestVar(t *testing.T) {
	require.NoError(t, Var("quantity", 2, "min=1,max=4"))

	err := Var("quantity", 5, "min=1,max=4")
	require.Error(t, err)
	assert.Equal(t, "quantity must be at most 4", err.Error())
}
