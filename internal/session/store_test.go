package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shared-code-editor/backend/internal/model"
)

// fakeClock is a manually advanced clock for deterministic timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*Store, *fakeClock) {
	clock := newFakeClock()
	return NewStore(Config{Now: clock.Now}), clock
}

func testUser(id string) *model.Participant {
	return &model.Participant{ID: id, Name: "user " + id, Color: "#FF6B6B"}
}

func testFile(id string) *model.File {
	return &model.File{
		ID:         id,
		Name:       id + ".txt",
		Type:       "text/plain",
		Size:       2,
		Content:    "hi",
		UploadedBy: "u1",
		UploadedAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		IsTextFile: true,
	}
}

func TestStore_Create(t *testing.T) {
	store, _ := newTestStore()

	t.Run("new session gets placeholder content", func(t *testing.T) {
		sess, created := store.Create("abc")
		require.True(t, created)
		assert.Equal(t, "abc", sess.ID)
		assert.Equal(t, DefaultInitialContent, sess.Content)
		assert.Equal(t, DefaultLanguage, sess.Language)
		assert.Empty(t, sess.Participants)
		assert.Empty(t, sess.Files)
	})

	t.Run("existing session is returned unchanged", func(t *testing.T) {
		require.True(t, store.UpdateContent("abc", "print(1)"))

		sess, created := store.Create("abc")
		assert.False(t, created)
		assert.Equal(t, "print(1)", sess.Content)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("custom placeholder and language", func(t *testing.T) {
		custom := NewStore(Config{InitialContent: "# hello", DefaultLanguage: "python"})
		sess, _ := custom.Create("x")
		assert.Equal(t, "# hello", sess.Content)
		assert.Equal(t, "python", sess.Language)
	})
}

func TestStore_CreateConcurrent(t *testing.T) {
	store, _ := newTestStore()

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created := store.Join("race", testUser(fmt.Sprintf("u%d", i)))
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount, "exactly one caller creates the session")
	assert.Equal(t, 1, store.Len())
	assert.Len(t, store.Participants("race"), goroutines, "no participant is lost to a duplicate create")
}

func TestStore_Get(t *testing.T) {
	store, _ := newTestStore()

	_, ok := store.Get("missing")
	assert.False(t, ok)

	store.Create("abc")
	sess, ok := store.Get("abc")
	require.True(t, ok)

	// Snapshots are detached from the stored state.
	sess.Content = "mutated"
	sess.Participants["ghost"] = testUser("ghost")

	again, _ := store.Get("abc")
	assert.Equal(t, DefaultInitialContent, again.Content)
	assert.NotContains(t, again.Participants, "ghost")
}

func TestStore_UpdateContent(t *testing.T) {
	store, clock := newTestStore()

	assert.False(t, store.UpdateContent("missing", "x"), "unknown session reports failure")
	assert.False(t, store.Exists("missing"), "update never creates a session")

	store.Create("abc")
	clock.Advance(time.Minute)
	require.True(t, store.UpdateContent("abc", ""))

	sess, _ := store.Get("abc")
	assert.Equal(t, "", sess.Content)
	assert.Equal(t, clock.Now(), sess.LastModified)
}

func TestStore_Participants(t *testing.T) {
	store, clock := newTestStore()
	store.Create("abc")
	created, _ := store.Get("abc")

	t.Run("join does not refresh lastModified", func(t *testing.T) {
		clock.Advance(time.Minute)
		store.Join("abc", testUser("u1"))

		sess, _ := store.Get("abc")
		assert.Equal(t, created.LastModified, sess.LastModified)
		assert.Contains(t, sess.Participants, "u1")
	})

	t.Run("repeated join replaces wholesale", func(t *testing.T) {
		require.True(t, store.UpdateParticipantCursor("abc", "u1", model.Cursor{Line: 3, Column: 4}))

		store.Join("abc", &model.Participant{ID: "u1", Name: "renamed", Color: "#000000"})
		sess, _ := store.Get("abc")
		p := sess.Participants["u1"]
		assert.Equal(t, "renamed", p.Name)
		assert.Nil(t, p.Cursor, "no merge with the previous record")
	})

	t.Run("remove absent participant is a no-op", func(t *testing.T) {
		assert.False(t, store.RemoveParticipant("abc", "nobody"))
		assert.False(t, store.RemoveParticipant("missing", "u1"))
		assert.Len(t, store.Participants("abc"), 1)
	})

	t.Run("remove present participant", func(t *testing.T) {
		assert.True(t, store.RemoveParticipant("abc", "u1"))
		assert.Empty(t, store.Participants("abc"))
	})

	t.Run("add participant to unknown session fails", func(t *testing.T) {
		assert.False(t, store.AddParticipant("missing", testUser("u1")))
		assert.True(t, store.AddParticipant("abc", testUser("u2")))
	})
}

func TestStore_UpdateParticipantCursor(t *testing.T) {
	store, clock := newTestStore()
	store.Join("abc", testUser("u1"))
	before, _ := store.Get("abc")

	assert.False(t, store.UpdateParticipantCursor("missing", "u1", model.Cursor{}))
	assert.False(t, store.UpdateParticipantCursor("abc", "nobody", model.Cursor{}))

	cursor := model.Cursor{Line: 10, Column: 2}
	clock.Advance(time.Minute)
	require.True(t, store.UpdateParticipantCursor("abc", "u1", cursor))
	first, _ := store.Get("abc")
	require.True(t, store.UpdateParticipantCursor("abc", "u1", cursor))
	second, _ := store.Get("abc")

	assert.Equal(t, first.Participants["u1"], second.Participants["u1"], "same cursor twice yields same state")
	assert.Equal(t, cursor, *second.Participants["u1"].Cursor)
	assert.Equal(t, before.LastModified, second.LastModified, "cursor activity does not count as modification")
}

func TestStore_Files(t *testing.T) {
	store, clock := newTestStore()

	_, ok := store.AddFile("missing", testFile("f1"))
	assert.False(t, ok)
	assert.Nil(t, store.ListFiles("missing"))

	store.Create("abc")
	clock.Advance(time.Minute)

	files, ok := store.AddFile("abc", testFile("f1"))
	require.True(t, ok)
	require.Len(t, files, 1)
	assert.Equal(t, "f1", files[0].ID)

	sess, _ := store.Get("abc")
	assert.Equal(t, clock.Now(), sess.LastModified)

	clock.Advance(time.Minute)
	files, removed := store.RemoveFile("abc", "nope")
	assert.False(t, removed)
	assert.Len(t, files, 1)
	sess, _ = store.Get("abc")
	assert.NotEqual(t, clock.Now(), sess.LastModified, "removing an absent file is not a modification")

	files, removed = store.RemoveFile("abc", "f1")
	assert.True(t, removed)
	assert.Empty(t, files)
	assert.Empty(t, store.ListFiles("abc"))
}

func TestStore_ConcurrentFileUploads(t *testing.T) {
	store, _ := newTestStore()
	store.Create("abc")

	const uploads = 100
	var wg sync.WaitGroup
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.AddFile("abc", testFile(fmt.Sprintf("f%03d", i)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.ListFiles("abc"), uploads, "no upload clobbers another")
}

func TestStore_SweepIdle(t *testing.T) {
	store, clock := newTestStore()
	threshold := time.Hour

	store.Create("empty-old")
	store.Join("occupied-old", testUser("u1"))
	clock.Advance(2 * time.Hour)
	store.Create("empty-young")
	store.Join("occupied-young", testUser("u2"))

	evicted := store.SweepIdle(threshold, clock.Now())

	require.Len(t, evicted, 1)
	assert.Equal(t, "empty-old", evicted[0].ID)
	assert.False(t, store.Exists("empty-old"))
	assert.True(t, store.Exists("occupied-old"), "occupied sessions survive regardless of age")
	assert.True(t, store.Exists("empty-young"), "young sessions survive regardless of participants")
	assert.True(t, store.Exists("occupied-young"))
}

func TestStore_SweepIdleReportsPeak(t *testing.T) {
	store, clock := newTestStore()
	store.Join("abc", testUser("u1"))
	store.Join("abc", testUser("u2"))
	store.RemoveParticipant("abc", "u1")
	store.RemoveParticipant("abc", "u2")
	clock.Advance(2 * time.Hour)

	evicted := store.SweepIdle(time.Hour, clock.Now())
	require.Len(t, evicted, 1)
	assert.Equal(t, 2, evicted[0].PeakParticipants)
	assert.Equal(t, 0, evicted[0].ParticipantCount)
}

func TestStore_Sweeper(t *testing.T) {
	store := NewStore(Config{})
	store.Create("idle")

	evictedCh := make(chan []model.SessionInfo, 1)
	store.SetOnEvict(func(evicted []model.SessionInfo) {
		select {
		case evictedCh <- evicted:
		default:
		}
	})

	store.StartSweeper(10*time.Millisecond, time.Nanosecond)
	store.StartSweeper(10*time.Millisecond, time.Nanosecond) // second start is a no-op

	select {
	case evicted := <-evictedCh:
		require.Len(t, evicted, 1)
		assert.Equal(t, "idle", evicted[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not evict the idle session")
	}

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close is idempotent")

	// Stopped sweeper leaves new idle sessions alone.
	store.Create("later")
	time.Sleep(50 * time.Millisecond)
	assert.True(t, store.Exists("later"))
}

func TestStore_CloseWithoutSweeper(t *testing.T) {
	store, _ := newTestStore()
	assert.NoError(t, store.Close())
}

func TestStore_List(t *testing.T) {
	store, _ := newTestStore()
	store.Join("b", testUser("u1"))
	store.Create("a")
	store.AddFile("a", testFile("f1"))

	infos := store.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].ID)
	assert.Equal(t, 1, infos[0].FileCount)
	assert.Equal(t, "b", infos[1].ID)
	assert.Equal(t, 1, infos[1].ParticipantCount)

	info, ok := store.Info("b")
	require.True(t, ok)
	assert.Equal(t, 1, info.PeakParticipants)
	_, ok = store.Info("missing")
	assert.False(t, ok)
}
