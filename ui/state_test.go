package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeed_DropsOldest(t *testing.T) {
	feed := NewFeed(2)

	feed.Publish(&State{ConversationID: "1"})
	feed.Publish(&State{ConversationID: "2"})
	feed.Publish(&State{ConversationID: "3"})

	assert.Equal(t, 1, feed.Dropped())
	assert.Equal(t, "2", (<-feed.Subscribe()).ConversationID)
	assert.Equal(t, "3", (<-feed.Subscribe()).ConversationID)
}

func TestFeed_MinimumSize(t *testing.T) {
	feed := NewFeed(0)
	feed.Publish(&State{ConversationID: "a"})
	feed.Publish(&State{ConversationID: "b"})

	assert.Equal(t, "b", (<-feed.Subscribe()).ConversationID)
}
