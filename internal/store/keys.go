package store

import "fmt"

// ConversationKey identifies the conversation between two users independent
// of argument order: "dm:{len(min)}:{min}:{max}". The length prefix keeps ids
// containing ':' from colliding.
func ConversationKey(userA, userB string) string {
	lo, hi := userA, userB
	if hi < lo {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("dm:%d:%s:%s", len(lo), lo, hi)
}

// FriendPair returns the canonical (smaller, larger) ordering of two user ids.
func FriendPair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}
