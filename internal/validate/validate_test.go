package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jagruk/preparedness/internal/apperr"
)

type sample struct {
	Title    string   `json:"title" validate:"required"`
	Kind     string   `json:"type" validate:"required,oneof=physical virtual"`
	Classes  []string `json:"targetClasses" validate:"min=1,dive,required"`
	Internal string   `json:"-" validate:"omitempty,max=2"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{Kind: "tabletop"})
	require.Error(t, err)

	appErr := apperr.From(err)
	assert.Equal(t, apperr.KindValidationFailed, appErr.Kind)
	assert.Equal(t, "this field is required", appErr.Fields["title"])
	assert.Contains(t, appErr.Fields, "type")
	assert.Contains(t, appErr.Fields, "targetClasses")
}

func TestStructAcceptsValidInput(t *testing.T) {
	assert.NoError(t, Struct(sample{Title: "Fire", Kind: "physical", Classes: []string{"7a"}}))
}
