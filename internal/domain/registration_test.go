package domain

import (
	"encoding/json"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRegistration() Registration {
	return Registration{
		Username: "khaldi",
		Password: "s3cret-pass",
		Phone:    "+213 555 12 34 56",
		FullName: "Khaldi Abdelmoumen",
		Region:   "16",
		Age:      31,
		Address:  "Alger",
		Job:      "Engineer",
		Married:  true,
		Policy:   "2",
	}
}

func TestRegistration_Validate(t *testing.T) {
	require.NoError(t, validRegistration().Validate())

	r := validRegistration()
	r.Username = "ab"
	r.Age = 0
	r.Policy = ""
	err := r.Validate()
	require.Error(t, err)

	errs, ok := err.(validation.Errors)
	require.True(t, ok)
	assert.Contains(t, errs, "username")
	assert.Contains(t, errs, "age")
	assert.Contains(t, errs, "policy")
	assert.NotContains(t, errs, "phone")
}

func TestRegistration_MarriedIsBoolean(t *testing.T) {
	b, err := json.Marshal(validRegistration())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, true, raw["married"])
	assert.Equal(t, float64(31), raw["age"])
	assert.Equal(t, "Khaldi Abdelmoumen", raw["fullName"])
}

func TestParseMarried(t *testing.T) {
	for in, want := range map[string]bool{
		"true": true, "Yes": true, "1": true, "married": true,
		"false": false, "no": false, "0": false, "": false,
	} {
		got, err := ParseMarried(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMarried("maybe")
	assert.Error(t, err)
}
