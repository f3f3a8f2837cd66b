package privacy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/privacy-shield/internal/ttlstore"
)

func testClock() *ttlstore.FakeClock {
	return ttlstore.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestMappingStore_CopiesOnSetAndGet(t *testing.T) {
	store := NewMappingStore(time.Minute)

	original := map[string]string{"[EMAIL_1]": "a@example.com"}
	store.Set("evt-1", original)
	original["[EMAIL_1]"] = "changed"

	got, ok := store.Get("evt-1")
	require.True(t, ok)
	assert.Equal(t, "a@example.com", got["[EMAIL_1]"])

	got["[EMAIL_1]"] = "mutated"
	again, _ := store.Get("evt-1")
	assert.Equal(t, "a@example.com", again["[EMAIL_1]"])
}

func TestMappingStore_Expiry(t *testing.T) {
	clock := testClock()
	store := NewMappingStore(15*time.Minute, ttlstore.WithClock(clock.Now))

	store.Set("evt-1", map[string]string{"[PERSON_A]": "Anna Berg"})

	clock.Advance(15*time.Minute - time.Nanosecond)
	_, ok := store.Get("evt-1")
	assert.True(t, ok)

	clock.Advance(time.Nanosecond)
	_, ok = store.Get("evt-1")
	assert.False(t, ok)
}

func TestMappingStore_DeleteAndSweep(t *testing.T) {
	clock := testClock()
	store := NewMappingStore(time.Minute, ttlstore.WithClock(clock.Now))

	store.Set("a", map[string]string{})
	store.Set("b", map[string]string{})
	store.Delete("a")
	assert.Equal(t, 1, store.Stats().Size)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Stats().Size)
}

func TestStatusStore_GateInvariant(t *testing.T) {
	store := NewStatusStore(time.Hour)

	for _, verified := range []bool{true, false} {
		for _, risk := range []bool{true, false} {
			// deliberately inconsistent input
			stored := store.Set(PrivacyStatus{
				EventID:            "evt",
				VerificationPassed: verified,
				SemanticRisk:       risk,
				Gated:              !(!verified || risk),
				ApprovalTokenHash:  "abc",
			})

			wantGated := !verified || risk
			assert.Equal(t, wantGated, stored.Gated)
			assert.Equal(t, wantGated, stored.ApprovalRequired)
			if !wantGated {
				assert.Empty(t, stored.ApprovalTokenHash)
			}

			got, ok := store.Get("evt")
			require.True(t, ok)
			assert.Equal(t, stored, got)
		}
	}
}

func TestStatusStore_ExpiresAt(t *testing.T) {
	clock := testClock()
	store := NewStatusStore(time.Hour, ttlstore.WithClock(clock.Now))

	stored := store.Set(PrivacyStatus{EventID: "evt", VerificationPassed: true})
	assert.Equal(t, clock.Now().Add(time.Hour), stored.ExpiresAt)

	clock.Advance(time.Hour)
	_, ok := store.Get("evt")
	assert.False(t, ok)
}

func TestStatusStore_ExpiresAtMatchesStoreDeadline(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	// every read of the clock moves it forward
	ticking := func() time.Time {
		now := start.Add(time.Duration(calls) * time.Second)
		calls++
		return now
	}
	store := NewStatusStore(time.Hour, ttlstore.WithClock(ticking))

	stored := store.Set(PrivacyStatus{EventID: "evt", VerificationPassed: true})

	_, deadline, ok := store.store.GetWithExpiry("evt")
	require.True(t, ok)
	assert.Equal(t, deadline, stored.ExpiresAt)

	got, ok := store.Get("evt")
	require.True(t, ok)
	assert.Equal(t, deadline, got.ExpiresAt)
}

func TestStatusStore_ZeroTTL(t *testing.T) {
	store := NewStatusStore(0)
	store.Set(PrivacyStatus{EventID: "evt"})

	_, ok := store.Get("evt")
	assert.False(t, ok)
}
