package types_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestReceivedMessage_Clone(t *testing.T) {
	// Arrange
	original := &types.ReceivedMessage{
		PublishMessage: types.PublishMessage{
			ID:          "msg-1",
			SessionID:   "101",
			Payload:     []byte("hello"),
			Attributes:  map[string]string{"uid": "device-1"},
			PublishTime: time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC),
		},
	}

	// Act
	clone := original.Clone()
	clone.Payload[0] = 'J'
	clone.Attributes["uid"] = "changed"

	// Assert
	assert.Equal(t, "msg-1", clone.ID)
	assert.Equal(t, "101", clone.SessionID)
	assert.Equal(t, original.PublishTime, clone.PublishTime)
	assert.Equal(t, "hello", string(original.Payload), "clone must not share the payload buffer")
	assert.Equal(t, "device-1", original.Attributes["uid"], "clone must not share the attribute map")
}

func TestReceivedMessage_Clone_NilAttributes(t *testing.T) {
	original := &types.ReceivedMessage{PublishMessage: types.PublishMessage{ID: "msg-2"}}

	clone := original.Clone()

	assert.Nil(t, clone.Attributes)
	assert.Empty(t, clone.Payload)
}
