package types

import "regexp"

// FUNCTIONAL DISCOVERY: regex compiled once at package initialization
// for high-frequency validation on the connection accept path
var accountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidAccountID checks account ID format requirements
func IsValidAccountID(accountID string) bool {
	if len(accountID) < 1 || len(accountID) > 50 {
		return false
	}
	return accountIDRegex.MatchString(accountID)
}

// IsValidAccountName checks account display-name format requirements
func IsValidAccountName(name string) bool {
	if len(name) < 1 || len(name) > 50 {
		return false
	}
	return accountIDRegex.MatchString(name)
}

// IsValidSessionName checks session name length; empty is allowed
func IsValidSessionName(name string) bool {
	return len(name) <= 200
}

// IsValidSetKind reports whether the kind is one of the allowed set kinds
func IsValidSetKind(k SetKind) bool {
	switch k {
	case SetKindWarmup, SetKindWorking, SetKindDrop, SetKindSuper, SetKindFailure:
		return true
	default:
		return false
	}
}

// IsValidItemType reports whether the type is single or compound
func IsValidItemType(t ItemType) bool {
	return t == ItemTypeSingle || t == ItemTypeCompound
}
