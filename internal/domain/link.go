package domain

import (
	"slices"
	"strings"
	"time"
)

// TargetRef identifies what a link points at. At least one field is set.
type TargetRef struct {
	URL          string `json:"url,omitempty"`
	ContentHash  string `json:"content_hash,omitempty"`
	TokenAddress string `json:"token_address,omitempty"`
}

// Empty reports whether no identifying field is set.
func (t TargetRef) Empty() bool {
	return t.URL == "" && t.ContentHash == "" && t.TokenAddress == ""
}

// Key is the identity used to find an existing record for a target. Token
// addresses and hashes compare case-insensitively.
func (t TargetRef) Key() string {
	switch {
	case t.TokenAddress != "":
		return "token:" + strings.ToLower(t.TokenAddress)
	case t.ContentHash != "":
		return "hash:" + NormalizeHash(t.ContentHash)
	default:
		return "url:" + strings.TrimSpace(t.URL)
	}
}

// SameTarget reports whether t and other name the same post: any field set
// on both must agree, and at least one must be shared.
func (t TargetRef) SameTarget(other TargetRef) bool {
	shared := false
	if t.TokenAddress != "" && other.TokenAddress != "" {
		if !strings.EqualFold(t.TokenAddress, other.TokenAddress) {
			return false
		}
		shared = true
	}
	if t.ContentHash != "" && other.ContentHash != "" {
		if NormalizeHash(t.ContentHash) != NormalizeHash(other.ContentHash) {
			return false
		}
		shared = true
	}
	if t.URL != "" && other.URL != "" {
		if strings.TrimSpace(t.URL) != strings.TrimSpace(other.URL) {
			return false
		}
		shared = true
	}
	return shared
}

// NormalizeHash lower-cases h and ensures a single 0x prefix.
func NormalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return "0x" + strings.TrimPrefix(h, "0x")
}

// LinkRecord is one entry in the submission queue.
type LinkRecord struct {
	ID          string    `json:"id"`
	SubmitterID int64     `json:"submitter_id"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Target      TargetRef `json:"target"`
	TaskType    TaskType  `json:"task_type"`
	CompletedBy []int64   `json:"completed_by"`
	CreatedAt   time.Time `json:"created_at"`
	Pinned      bool      `json:"pinned"`
	PinnedSlot  int       `json:"pinned_slot,omitempty"`
}

// HasCompleted reports whether userID already completed this link.
func (r *LinkRecord) HasCompleted(userID int64) bool {
	return slices.Contains(r.CompletedBy, userID)
}

// AddCompletion appends userID once. It reports whether the set changed.
func (r *LinkRecord) AddCompletion(userID int64) bool {
	if r.HasCompleted(userID) {
		return false
	}
	r.CompletedBy = append(r.CompletedBy, userID)
	return true
}

// Clone returns a copy that shares no slices with r.
func (r LinkRecord) Clone() LinkRecord {
	r.CompletedBy = slices.Clone(r.CompletedBy)
	if r.CompletedBy == nil {
		r.CompletedBy = []int64{}
	}
	return r
}

// NewerThan orders records by recency, newest first. Ties on CreatedAt
// fall back to the id, which is time ordered.
func (r *LinkRecord) NewerThan(o *LinkRecord) bool {
	if !r.CreatedAt.Equal(o.CreatedAt) {
		return r.CreatedAt.After(o.CreatedAt)
	}
	return r.ID > o.ID
}
