//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// LocalUser is a user record in one of the two realm tables. The shape is
// shared; the admin flag is only meaningful for backend users (frontend
// queries surface it as false).
type LocalUser struct {
	ID             int64      `json:"id"              db:"id"`
	Username       string     `json:"username"        db:"username"`
	Password       string     `json:"-"               db:"password"`
	Email          string     `json:"email"           db:"email"`
	Name           string     `json:"name"            db:"name"`
	Usergroup      string     `json:"usergroup"       db:"usergroup"`
	Admin          bool       `json:"admin"           db:"admin"`
	Disabled       bool       `json:"disabled"        db:"disabled"`
	Deleted        bool       `json:"deleted"         db:"deleted"`
	LockToDomain   string     `json:"lock_to_domain"  db:"lock_to_domain"`
	OIDCIdentifier string     `json:"oidc_identifier" db:"oidc_identifier"`
	StartTime      *time.Time `json:"start_time"      db:"start_time"`
	EndTime        *time.Time `json:"end_time"        db:"end_time"`
	CreatedAt      time.Time  `json:"created_at"      db:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"      db:"updated_at"`
}

// GroupIDs parses the comma-joined usergroup list.
func (u *LocalUser) GroupIDs() []int64 {
	return ParseGroupList(u.Usergroup)
}

// HasGroups reports whether the record carries at least one usergroup.
func (u *LocalUser) HasGroups() bool {
	return len(u.GroupIDs()) > 0
}

// UserGroup is a usergroup record in one of the two realm group tables.
// ExternalIdentifier links the group to an IdP role value.
type UserGroup struct {
	ID                 int64  `json:"id"                  db:"id"`
	Title              string `json:"title"               db:"title"`
	LockToDomain       string `json:"lock_to_domain"      db:"lock_to_domain"`
	ExternalIdentifier string `json:"external_identifier" db:"external_identifier"`
}

// JoinGroupList deduplicates, sorts, and comma-joins group ids. Sorting
// keeps the stored list deterministic regardless of query ordering.
func JoinGroupList(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	seen := make(map[int64]struct{}, len(ids))
	uniq := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	parts := make([]string, len(uniq))
	for i, id := range uniq {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// ParseGroupList parses a comma-joined group id list, skipping blanks and
// malformed entries.
func ParseGroupList(list string) []int64 {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}
