package store

import "fmt"

// Key builders for the single-table layout (§4.5/§6.3): a message's primary
// key is addressed by (chat_id, message_id); auxiliary GSI keys support
// per-user listings, global resource scans, and parent/child lookups.

func messagePK(chatID string) string { return fmt.Sprintf("MESSAGE#%s", chatID) }
func messageSK(messageID string) string { return fmt.Sprintf("MESSAGE#%s", messageID) }

func chatPK(chatID string) string { return fmt.Sprintf("CHAT#%s", chatID) }

const chatMetadataSK = "METADATA"

func userPK(userID string) string { return fmt.Sprintf("USER#%s", userID) }

func userSK(entityType, timestamp, id string) string {
	return fmt.Sprintf("%s#%s#%s", entityType, timestamp, id)
}

func globalPK(entityType string) string { return fmt.Sprintf("RESOURCE_TYPE#%s", entityType) }

func globalSK(timestamp, id string) string {
	return fmt.Sprintf("CREATED_AT#%s#%s", timestamp, id)
}

func parentPK(parentID string) string { return fmt.Sprintf("PARENT#%s", parentID) }
