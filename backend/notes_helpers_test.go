package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metas(ids ...string) []NoteMeta {
	out := make([]NoteMeta, 0, len(ids))
	for i, id := range ids {
		out = append(out, seedMeta(id, int64(i+1), 1000))
	}
	return out
}

func idsOf(notes []NoteMeta) []string {
	ids := []string{}
	for _, n := range notes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestUpsertMeta(t *testing.T) {
	list := NotesList{Active: metas("a", "b"), Trashed: metas("t")}

	t.Run("既存のノートはその位置で置換する", func(t *testing.T) {
		updated := list.Active[0]
		updated.Title = "renamed"
		next := upsertMeta(list, updated)
		assert.Equal(t, []string{"a", "b"}, idsOf(next.Active))
		assert.Equal(t, "renamed", next.Active[0].Title)
		assert.Equal(t, "a", list.Active[0].Title, "元のリストは変更しない")
	})

	t.Run("ゴミ箱に入ったノートはアクティブから移動する", func(t *testing.T) {
		trashed := list.Active[1]
		trashed.IsTrashed = true
		next := upsertMeta(list, trashed)
		assert.Equal(t, []string{"a"}, idsOf(next.Active))
		assert.Equal(t, []string{"t", "b"}, idsOf(next.Trashed))
	})

	t.Run("復元したノートはアクティブの末尾に入る", func(t *testing.T) {
		restored := list.Trashed[0]
		restored.IsTrashed = false
		next := upsertMeta(list, restored)
		assert.Equal(t, []string{"a", "b", "t"}, idsOf(next.Active))
		assert.Empty(t, next.Trashed)
	})
}

func TestRemoveMeta(t *testing.T) {
	list := NotesList{Active: metas("a", "b"), Trashed: metas("t")}
	next := removeMeta(list, "t")
	assert.Equal(t, []string{"a", "b"}, idsOf(next.Active))
	assert.Empty(t, next.Trashed)
	assert.NotNil(t, next.Trashed)
}

func TestSortActive(t *testing.T) {
	notes := []NoteMeta{
		seedMeta("n2", 2, 0),
		seedMeta("p2", 2, 0),
		seedMeta("n1", 1, 0),
		seedMeta("p1", 1, 0),
	}
	assert.Equal(t, []string{"p1", "p2", "n1", "n2"}, idsOf(sortActive(notes)))
}

func TestSortTrashed(t *testing.T) {
	at := func(id string, trashedAt *int64, order int64) NoteMeta {
		n := seedMeta(id, order, 0)
		n.IsTrashed = true
		n.TrashedAt = trashedAt
		return n
	}
	notes := []NoteMeta{
		at("old", int64Ptr(100), 1),
		at("none", nil, 1),
		at("new-b", int64Ptr(200), 2),
		at("new-a", int64Ptr(200), 1),
	}
	assert.Equal(t, []string{"new-a", "new-b", "old", "none"}, idsOf(sortTrashed(notes)))
}

func TestFindMetaByID_EmptyID(t *testing.T) {
	list := NotesList{Active: []NoteMeta{{ID: ""}}}
	_, ok := findMetaByID(list, "")
	assert.False(t, ok)
}

func TestBumpLastInteraction(t *testing.T) {
	list := NotesList{Active: metas("a", "b"), Trashed: []NoteMeta{}}

	t.Run("変化が無ければ同じリストを返す", func(t *testing.T) {
		assert.True(t, sameList(list, bumpLastInteraction(list, "a", 1000)))
		assert.True(t, sameList(list, bumpLastInteraction(list, "missing", 5000)))
	})

	t.Run("更新した場合は新しいスライスを返す", func(t *testing.T) {
		next := bumpLastInteraction(list, "b", 5000)
		require.False(t, sameList(list, next))
		assert.Equal(t, int64(5000), next.Active[1].LastInteraction)
		assert.Equal(t, int64(1000), list.Active[1].LastInteraction, "元のリストは変更しない")
	})
}

func TestApplyReorder(t *testing.T) {
	list := NotesList{
		Active: append(metas("p1", "p2"), metas("n1", "n2", "n3")...),
	}

	tests := []struct {
		name    string
		section ReorderSection
		ids     []string
		want    []string
	}{
		{
			name:    "通常区分を指定順に並べる",
			section: SectionNotes,
			ids:     []string{"n3", "n1", "n2"},
			want:    []string{"p1", "p2", "n3", "n1", "n2"},
		},
		{
			name:    "指定されなかったノートは元の順で末尾に残る",
			section: SectionNotes,
			ids:     []string{"n2"},
			want:    []string{"p1", "p2", "n2", "n1", "n3"},
		},
		{
			name:    "未知のIDと重複は無視する",
			section: SectionNotes,
			ids:     []string{"zzz", "n3", "n3", "p1"},
			want:    []string{"p1", "p2", "n3", "n1", "n2"},
		},
		{
			name:    "ピン留め区分は通常区分に影響しない",
			section: SectionPinned,
			ids:     []string{"p2", "p1"},
			want:    []string{"p2", "p1", "n1", "n2", "n3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyReorder(list, tt.section, tt.ids)
			assert.Equal(t, tt.want, idsOf(got.Active))
		})
	}
}

func TestPruneByIDs(t *testing.T) {
	m := map[string]string{"a": "1", "b": "2"}
	got := pruneByIDs(m, map[string]struct{}{"a": {}, "c": {}})
	assert.Equal(t, map[string]string{"a": "1"}, got)
	assert.Len(t, m, 2)
}
