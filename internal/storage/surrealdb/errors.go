package surrealdb

import "strings"

// isNotFoundError reports whether err is SurrealDB's response for a missing
// record or table rather than a transport or query failure.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}
