package router

import "sort"

// subscriptionIndex maps a conversation id to the ids of the connections
// currently viewing it. A connection is in at most one set, the one named by
// its activeConversationID, and empty sets are deleted rather than kept.
// Owned by Router; only touched while holding Router.mu.
type subscriptionIndex struct {
	subs map[string]map[string]struct{}
}

func newSubscriptionIndex() *subscriptionIndex {
	return &subscriptionIndex{subs: make(map[string]map[string]struct{})}
}

// subscribe moves c into conversationID, leaving any previous conversation.
func (ix *subscriptionIndex) subscribe(c *clientConn, conversationID string) {
	if c.activeConversationID == conversationID {
		return
	}
	if c.activeConversationID != "" {
		ix.unsubscribe(c, c.activeConversationID)
	}

	set, ok := ix.subs[conversationID]
	if !ok {
		set = make(map[string]struct{})
		ix.subs[conversationID] = set
	}
	set[c.id] = struct{}{}
	c.activeConversationID = conversationID
}

// unsubscribe removes c from conversationID. Unknown ids are ignored.
func (ix *subscriptionIndex) unsubscribe(c *clientConn, conversationID string) {
	if set, ok := ix.subs[conversationID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(ix.subs, conversationID)
		}
	}
	if c.activeConversationID == conversationID {
		c.activeConversationID = ""
	}
}

// subscribersOf returns a sorted copy of the subscriber ids, empty if none.
func (ix *subscriptionIndex) subscribersOf(conversationID string) []string {
	set := ix.subs[conversationID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (ix *subscriptionIndex) has(conversationID string) bool {
	_, ok := ix.subs[conversationID]
	return ok
}
