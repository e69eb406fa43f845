package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinGroupList_DedupesAndSorts(t *testing.T) {
	assert.Equal(t, "1,3,9", JoinGroupList([]int64{9, 3, 1, 3, 9}))
	assert.Equal(t, "", JoinGroupList(nil))
}

func TestParseGroupList_SkipsMalformedEntries(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, ParseGroupList("1, 2,x,3,"))
	assert.Nil(t, ParseGroupList(""))
	assert.Nil(t, ParseGroupList(" , ,abc"))
}

func TestLocalUser_GroupIDs(t *testing.T) {
	u := LocalUser{Usergroup: "4,2"}
	assert.Equal(t, []int64{4, 2}, u.GroupIDs())
	assert.True(t, u.HasGroups())

	empty := LocalUser{}
	assert.False(t, empty.HasGroups())
}
