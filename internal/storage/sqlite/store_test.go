package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdhq/answerd/internal/apikey"
	"github.com/answerdhq/answerd/internal/conversation"
	"github.com/answerdhq/answerd/internal/project"
	"github.com/answerdhq/answerd/internal/quota"
	"github.com/answerdhq/answerd/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleProject(id string) *project.Project {
	return &project.Project{
		ID:                id,
		Name:              "Docs Bot",
		OwnerUserID:       "user1",
		Instructions:      "Answer from the handbook.",
		AllowedDomains:    []string{"docs.example.com"},
		AllowedAssistants: []string{"support"},
		Limits: project.Limits{
			RequestsPerMinute:  5,
			RequestsPerDay:     100,
			RequestsPerSession: 50,
		},
		SessionDuration:       time.Hour,
		MaxConcurrentSessions: 10,
	}
}

func TestProjectStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	projects := store.Projects()
	ctx := context.Background()

	p := sampleProject("proj1")
	require.NoError(t, projects.Create(ctx, p))

	got, err := projects.Get(ctx, "proj1")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.OwnerUserID, got.OwnerUserID)
	assert.Equal(t, p.AllowedDomains, got.AllowedDomains)
	assert.Equal(t, p.AllowedAssistants, got.AllowedAssistants)
	assert.Equal(t, p.Limits, got.Limits)
	assert.Equal(t, time.Hour, got.SessionDuration)
	assert.Equal(t, 10, got.MaxConcurrentSessions)
	assert.False(t, got.Revoked)
}

func TestProjectStoreDuplicate(t *testing.T) {
	store := newTestStore(t)
	projects := store.Projects()
	ctx := context.Background()

	require.NoError(t, projects.Create(ctx, sampleProject("proj1")))
	assert.ErrorIs(t, projects.Create(ctx, sampleProject("proj1")), project.ErrExists)
}

func TestProjectStoreUpdateAndDelete(t *testing.T) {
	store := newTestStore(t)
	projects := store.Projects()
	ctx := context.Background()

	p := sampleProject("proj1")
	require.NoError(t, projects.Create(ctx, p))

	p.Name = "Renamed"
	p.Revoked = true
	p.Limits.RequestsPerMinute = 2
	require.NoError(t, projects.Update(ctx, p))

	got, err := projects.Get(ctx, "proj1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.Revoked)
	assert.Equal(t, 2, got.Limits.RequestsPerMinute)

	require.NoError(t, projects.Delete(ctx, "proj1"))
	_, err = projects.Get(ctx, "proj1")
	assert.ErrorIs(t, err, project.ErrNotFound)

	assert.ErrorIs(t, projects.Delete(ctx, "proj1"), project.ErrNotFound)
	assert.ErrorIs(t, projects.Update(ctx, sampleProject("ghost")), project.ErrNotFound)
}

func TestProjectStoreList(t *testing.T) {
	store := newTestStore(t)
	projects := store.Projects()
	ctx := context.Background()

	a := sampleProject("proja")
	b := sampleProject("projb")
	other := sampleProject("projc")
	other.OwnerUserID = "user2"

	require.NoError(t, projects.Create(ctx, a))
	require.NoError(t, projects.Create(ctx, b))
	require.NoError(t, projects.Create(ctx, other))

	list, err := projects.List(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestSessionStore(t *testing.T) {
	store := newTestStore(t)
	sessions := store.Sessions()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	s := &session.Session{
		ID:             "sess1",
		ProjectID:      "proj1",
		Origin:         "docs.example.com",
		TokenHash:      session.HashToken("st_test"),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		UserIdentifier: "visitor-7",
	}
	require.NoError(t, sessions.Create(ctx, s))

	got, err := sessions.GetByTokenHash(ctx, s.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess1", got.ID)
	assert.Equal(t, "proj1", got.ProjectID)
	assert.Equal(t, "visitor-7", got.UserIdentifier)

	assert.True(t, got.LastUsedAt.IsZero())

	missing, err := sessions.GetByTokenHash(ctx, session.HashToken("st_other"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, sessions.TouchLastUsed(ctx, "sess1", now.Add(time.Minute)))
	got, err = sessions.GetByTokenHash(ctx, s.TokenHash)
	require.NoError(t, err)
	assert.False(t, got.LastUsedAt.IsZero())

	count, err := sessions.CountActive(ctx, "proj1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = sessions.CountActive(ctx, "proj1", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	ids, err := sessions.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "sess1", ids[0])
}

func TestAPIKeyStore(t *testing.T) {
	store := newTestStore(t)
	keys := store.APIKeys()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	full, k, err := apikey.Mint("user1", "ci key", now)
	require.NoError(t, err)
	k.ID = "key1"
	require.NoError(t, keys.Create(ctx, k))

	got, err := keys.GetByHash(ctx, apikey.Hash(full))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user1", got.UserID)
	assert.Equal(t, apikey.DefaultRatePerMinute, got.RatePerMinute)
	assert.Equal(t, apikey.DefaultRatePerDay, got.RatePerDay)
	assert.True(t, got.LastUsedAt.IsZero())

	require.NoError(t, keys.TouchLastUsed(ctx, "key1", now.Add(time.Minute)))
	got, err = keys.GetByHash(ctx, apikey.Hash(full))
	require.NoError(t, err)
	assert.False(t, got.LastUsedAt.IsZero())

	require.NoError(t, keys.Revoke(ctx, "key1"))
	got, err = keys.GetByHash(ctx, apikey.Hash(full))
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	assert.ErrorIs(t, keys.Revoke(ctx, "ghost"), apikey.ErrNotFound)
}

func TestQuotaStoreWindows(t *testing.T) {
	store := newTestStore(t)
	counters := store.QuotaCounters()
	ctx := context.Background()

	minute1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	minute2 := minute1.Add(time.Minute)
	day1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, counters.Increment(ctx, "session:s1", minute1, day1))
	}

	counts, err := counters.Counts(ctx, "session:s1", minute1, day1)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Minute)
	assert.Equal(t, 3, counts.Day)
	assert.Equal(t, 3, counts.Session)

	// A stale minute window reads as zero without being mutated.
	counts, err = counters.Counts(ctx, "session:s1", minute2, day1)
	require.NoError(t, err)
	assert.Zero(t, counts.Minute)
	assert.Equal(t, 3, counts.Day)

	// Incrementing in the next minute restarts the minute counter but
	// keeps day and session counts growing.
	require.NoError(t, counters.Increment(ctx, "session:s1", minute2, day1))
	counts, err = counters.Counts(ctx, "session:s1", minute2, day1)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Minute)
	assert.Equal(t, 4, counts.Day)
	assert.Equal(t, 4, counts.Session)

	// A new day restarts the day counter; the session counter never
	// resets.
	require.NoError(t, counters.Increment(ctx, "session:s1", minute2, day2))
	counts, err = counters.Counts(ctx, "session:s1", minute2, day2)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Day)
	assert.Equal(t, 5, counts.Session)
}

func TestQuotaStoreIncrementIfAllowed(t *testing.T) {
	store := newTestStore(t)
	counters := store.QuotaCounters()
	ctx := context.Background()

	minute1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	minute2 := minute1.Add(time.Minute)
	day1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	limits := quota.Limits{PerMinute: 2, PerDay: 100}

	for i := 0; i < 2; i++ {
		ok, err := counters.IncrementIfAllowed(ctx, "session:s1", minute1, day1, limits)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be admitted", i+1)
	}

	// The minute window is full: nothing is charged on denial.
	ok, err := counters.IncrementIfAllowed(ctx, "session:s1", minute1, day1, limits)
	require.NoError(t, err)
	assert.False(t, ok)
	counts, err := counters.Counts(ctx, "session:s1", minute1, day1)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Minute)
	assert.Equal(t, 2, counts.Day)

	// The next minute window has room again.
	ok, err = counters.IncrementIfAllowed(ctx, "session:s1", minute2, day1, limits)
	require.NoError(t, err)
	assert.True(t, ok)

	// A revoked identity is never admitted.
	require.NoError(t, counters.Revoke(ctx, "session:bad"))
	ok, err = counters.IncrementIfAllowed(ctx, "session:bad", minute1, day1, limits)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuotaStoreDelete(t *testing.T) {
	store := newTestStore(t)
	counters := store.QuotaCounters()
	ctx := context.Background()

	minute := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, counters.Increment(ctx, "session:s1", minute, day))
	require.NoError(t, counters.Delete(ctx, "session:s1"))

	counts, err := counters.Counts(ctx, "session:s1", minute, day)
	require.NoError(t, err)
	assert.Zero(t, counts.Session)

	// Deleting an unknown identity is a no-op.
	require.NoError(t, counters.Delete(ctx, "session:none"))
}

func TestQuotaStoreUnknownIdentity(t *testing.T) {
	store := newTestStore(t)
	counters := store.QuotaCounters()
	ctx := context.Background()

	counts, err := counters.Counts(ctx, "session:none", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, counts.Minute)
	assert.Zero(t, counts.Day)
	assert.Zero(t, counts.Session)

	revoked, err := counters.IsRevoked(ctx, "session:none")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestQuotaStoreRevoke(t *testing.T) {
	store := newTestStore(t)
	counters := store.QuotaCounters()
	ctx := context.Background()

	require.NoError(t, counters.Revoke(ctx, "session:bad"))
	revoked, err := counters.IsRevoked(ctx, "session:bad")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Revocation survives later increments.
	require.NoError(t, counters.Increment(ctx, "session:bad", time.Now().Truncate(time.Minute), time.Now().Truncate(24*time.Hour)))
	revoked, err = counters.IsRevoked(ctx, "session:bad")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestConversationLog(t *testing.T) {
	store := newTestStore(t)
	log := store.Conversations()
	ctx := context.Background()

	c, err := log.Ensure(ctx, "sess1", "proj1", "support")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	// Ensure is idempotent per (session, assistant).
	again, err := log.Ensure(ctx, "sess1", "proj1", "support")
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)

	other, err := log.Ensure(ctx, "sess1", "proj1", "sales")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, other.ID)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(ctx, &conversation.Message{
		ConversationID: c.ID,
		Role:           conversation.RoleUser,
		Content:        "What is the vacation policy?",
		CreatedAt:      base,
	}))
	require.NoError(t, log.Append(ctx, &conversation.Message{
		ConversationID: c.ID,
		Role:           conversation.RoleAssistant,
		Content:        "Twenty days per year.",
		ContextUsed:    true,
		CreatedAt:      base.Add(time.Second),
	}))

	messages, err := log.Messages(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, messages[1].Role)
	assert.True(t, messages[1].ContextUsed)

	limited, err := log.Messages(ctx, c.ID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, conversation.RoleUser, limited[0].Role)
}
