package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgeware/orderforge/internal/domain"
)

func Test_IsZipFeasible_KnownPrefixes_ReturnTrue(t *testing.T) {
	assert.True(t, domain.IsZipFeasible(1001))
	assert.True(t, domain.IsZipFeasible(20500))
	assert.True(t, domain.IsZipFeasible(48999))
}

func Test_IsZipFeasible_UnknownPrefix_ReturnsFalse(t *testing.T) {
	assert.False(t, domain.IsZipFeasible(99999))
	assert.False(t, domain.IsZipFeasible(0))
}
