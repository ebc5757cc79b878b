package access

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityType_RoundTrip(t *testing.T) {
	for _, et := range EntityTypes {
		t.Run(et.String(), func(t *testing.T) {
			assert.True(t, et.Valid())
			parsed, err := ParseEntityType(et.String())
			require.NoError(t, err)
			assert.Equal(t, et, parsed)
		})
	}
}

func TestParseEntityType(t *testing.T) {
	parsed, err := ParseEntityType("modelversion")
	require.NoError(t, err)
	assert.Equal(t, EntityModelVersion, parsed)

	for _, name := range []string{"", "Gallery", "models", "Model; DROP TABLE models"} {
		_, err := ParseEntityType(name)
		assert.ErrorIs(t, err, ErrUnknownEntityType, name)
	}
}

func TestEntityType_Invalid(t *testing.T) {
	var zero EntityType
	assert.False(t, zero.Valid())
	assert.False(t, EntityType(42).Valid())
	assert.Equal(t, "EntityType(42)", EntityType(42).String())

	_, err := zero.MarshalText()
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}

func TestEntityType_JSON(t *testing.T) {
	var req checkRequest
	require.NoError(t, json.Unmarshal([]byte(`{"entity_type":"Bounty","entity_ids":[1,2]}`), &req))
	assert.Equal(t, EntityBounty, req.EntityType)
	assert.Equal(t, []int64{1, 2}, req.EntityIDs)

	err := json.Unmarshal([]byte(`{"entity_type":"Gallery"}`), &req)
	assert.Error(t, err)

	out, err := json.Marshal(map[string]EntityType{"t": EntityCollection})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":"Collection"}`, string(out))
}

func TestParseAvailability(t *testing.T) {
	tests := []struct {
		raw  string
		want Availability
		open bool
	}{
		{"Public", Public, true},
		{"Unsearchable", Unsearchable, true},
		{"Private", Private, false},
		{"", Private, false},
		{"public", Private, false},
		{"EarlyAccess", Private, false},
	}
	for _, tt := range tests {
		got := ParseAvailability(tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
		assert.Equal(t, tt.open, got.Open(), tt.raw)
	}
}

func TestEntityKey(t *testing.T) {
	key := NewEntityKey(EntityModelVersion, 70)
	assert.Equal(t, EntityKey("ModelVersion:70"), key)

	et, id, err := key.Parse()
	require.NoError(t, err)
	assert.Equal(t, EntityModelVersion, et)
	assert.Equal(t, int64(70), id)

	for _, bad := range []EntityKey{"Model", "Gallery:1", "Model:x"} {
		_, _, err := bad.Parse()
		assert.Error(t, err, string(bad))
	}
}
