package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndValidate(t *testing.T) {
	svc := New("test-signing-key", "proofgate", time.Hour)

	token, err := svc.Mint("ops@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	subject, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", subject)
}

func TestValidateRejectsWrongKey(t *testing.T) {
	minter := New("key-one", "proofgate", time.Hour)
	validator := New("key-two", "proofgate", time.Hour)

	token, err := minter.Mint("ops@example.com")
	require.NoError(t, err)

	_, err = validator.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := New("test-signing-key", "proofgate", -time.Minute)

	token, err := svc.Mint("ops@example.com")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	minter := New("test-signing-key", "someone-else", time.Hour)
	validator := New("test-signing-key", "proofgate", time.Hour)

	token, err := minter.Mint("ops@example.com")
	require.NoError(t, err)

	_, err = validator.Validate(token)
	assert.Error(t, err)
}
