package services

import (
	"context"
	"testing"
	"time"

	"design-battle-system/models"
)

func TestFinalizeExpired_CompletesOnlyExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	short := env.createContest(t, 1)
	long := env.createContest(t, 48)
	env.vote(t, short.ID, "u1", models.ChoiceA)
	env.vote(t, short.ID, "u2", models.ChoiceA)
	env.vote(t, short.ID, "u3", models.ChoiceB)

	env.clock.Advance(2 * time.Hour)
	n, err := env.lifecycle.FinalizeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("finalized %d, want 1", n)
	}

	done := env.reload(t, short.ID)
	if done.Status != models.StatusCompleted {
		t.Fatalf("status = %s", done.Status)
	}
	if done.Winner == nil || *done.Winner != models.ChoiceA {
		t.Fatalf("winner = %v", done.Winner)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(env.clock.Now()) {
		t.Fatalf("completed at = %v", done.CompletedAt)
	}
	if env.reload(t, long.ID).Status != models.StatusActive {
		t.Fatal("unexpired contest was finalized")
	}
}

func TestFinalizeExpired_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createContest(t, 1)
	env.vote(t, c.ID, "u1", models.ChoiceB)

	env.clock.Advance(time.Hour)
	if n, err := env.lifecycle.FinalizeExpired(ctx); err != nil || n != 1 {
		t.Fatalf("first sweep: %d, %v", n, err)
	}
	first := env.reload(t, c.ID)

	env.clock.Advance(time.Hour)
	if n, err := env.lifecycle.FinalizeExpired(ctx); err != nil || n != 0 {
		t.Fatalf("second sweep: %d, %v", n, err)
	}
	second := env.reload(t, c.ID)
	if !second.CompletedAt.Equal(*first.CompletedAt) || *second.Winner != *first.Winner {
		t.Fatal("second sweep modified a completed contest")
	}
}

func TestFinalizeExpired_TieHasNoWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tied := env.createContest(t, 1)
	empty := env.createContest(t, 1)
	env.vote(t, tied.ID, "u1", models.ChoiceA)
	env.vote(t, tied.ID, "u2", models.ChoiceB)

	env.clock.Advance(time.Hour)
	if n, err := env.lifecycle.FinalizeExpired(ctx); err != nil || n != 2 {
		t.Fatalf("sweep: %d, %v", n, err)
	}
	for _, id := range []string{tied.ID, empty.ID} {
		c := env.reload(t, id)
		if c.Status != models.StatusCompleted || c.Winner != nil {
			t.Fatalf("contest %s: status %s winner %v", id, c.Status, c.Winner)
		}
	}
}

func TestFinalizeExpired_RepairsCounterDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createContest(t, 1)
	env.vote(t, c.ID, "u1", models.ChoiceB)
	env.vote(t, c.ID, "u2", models.ChoiceB)

	env.db.Model(&models.Contest{}).Where("id = ?", c.ID).
		Updates(map[string]any{"vote_count_a": 5, "vote_count_b": 0, "total_votes": 5})

	env.clock.Advance(time.Hour)
	if _, err := env.lifecycle.FinalizeExpired(ctx); err != nil {
		t.Fatal(err)
	}
	done := env.reload(t, c.ID)
	if done.Winner == nil || *done.Winner != models.ChoiceB {
		t.Fatalf("winner = %v, want itemB from the ledger", done.Winner)
	}
	env.assertCountersMatchLedger(t, c.ID)
}

func TestFinalizeExpired_SkipsPausedAndCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paused := env.createContest(t, 1)
	cancelled := env.createContest(t, 1)
	if _, err := env.lifecycle.Pause(ctx, paused.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.lifecycle.Cancel(ctx, cancelled.ID); err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(2 * time.Hour)
	if n, err := env.lifecycle.FinalizeExpired(ctx); err != nil || n != 0 {
		t.Fatalf("sweep: %d, %v", n, err)
	}
	if env.reload(t, paused.ID).Status != models.StatusPaused {
		t.Fatal("paused contest changed")
	}
	if env.reload(t, cancelled.ID).Status != models.StatusCancelled {
		t.Fatal("cancelled contest changed")
	}
}

func TestContestLifecycle_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createContest(t, 24)

	for i, choice := range []models.Choice{models.ChoiceA, models.ChoiceB, models.ChoiceA, models.ChoiceA} {
		env.vote(t, c.ID, "user-"+string(rune('a'+i)), choice)
	}

	env.clock.Advance(25 * time.Hour)
	if _, err := env.ledger.CastVote(ctx, c.ID, "late", models.ChoiceB); !IsKind(err, KindState) {
		t.Fatalf("late vote: %v", err)
	}

	if n, err := env.lifecycle.FinalizeExpired(ctx); err != nil || n != 1 {
		t.Fatalf("sweep: %d, %v", n, err)
	}

	done := env.reload(t, c.ID)
	if done.Status != models.StatusCompleted || *done.Winner != models.ChoiceA {
		t.Fatalf("final state = %s winner %v", done.Status, done.Winner)
	}
	tally := TallyOf(done)
	if tally.VoteCountA != 3 || tally.VoteCountB != 1 || tally.PercentA != 75 || tally.PercentB != 25 {
		t.Fatalf("tally = %+v", tally)
	}

	completed, total, err := env.store.ListContests(ctx, ListFilter{Status: models.StatusCompleted, Sort: SortEnded})
	if err != nil || total != 1 || completed[0].ID != c.ID {
		t.Fatalf("completed list = %v, %d, %v", completed, total, err)
	}
}

func TestFinalizeContest_Admin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createContest(t, 24)
	env.vote(t, c.ID, "u1", models.ChoiceB)

	done, err := env.lifecycle.FinalizeContest(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.StatusCompleted || *done.Winner != models.ChoiceB {
		t.Fatalf("contest = %+v", done)
	}

	_, err = env.lifecycle.FinalizeContest(ctx, c.ID)
	wantKind(t, err, KindState)
	_, err = env.lifecycle.FinalizeContest(ctx, "missing")
	wantKind(t, err, KindNotFound)
}

func TestTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createContest(t, 24)

	paused, err := env.lifecycle.Pause(ctx, c.ID)
	if err != nil || paused.Status != models.StatusPaused {
		t.Fatalf("pause: %v %v", paused, err)
	}
	_, err = env.lifecycle.Pause(ctx, c.ID)
	wantKind(t, err, KindState)

	resumed, err := env.lifecycle.Resume(ctx, c.ID)
	if err != nil || resumed.Status != models.StatusActive {
		t.Fatalf("resume: %v %v", resumed, err)
	}
	env.vote(t, c.ID, "u1", models.ChoiceA)

	cancelled, err := env.lifecycle.Cancel(ctx, c.ID)
	if err != nil || cancelled.Status != models.StatusCancelled {
		t.Fatalf("cancel: %v %v", cancelled, err)
	}
	for _, op := range []func(context.Context, string) (*models.Contest, error){
		env.lifecycle.Pause, env.lifecycle.Resume, env.lifecycle.Cancel,
	} {
		_, err := op(ctx, c.ID)
		wantKind(t, err, KindState)
	}

	_, err = env.lifecycle.Pause(ctx, "missing")
	wantKind(t, err, KindNotFound)
}

func TestResume_ExpiredWhilePausedIsSweptNext(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createContest(t, 1)
	if _, err := env.lifecycle.Pause(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(2 * time.Hour)
	if _, err := env.lifecycle.Resume(ctx, c.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := env.ledger.CastVote(ctx, c.ID, "u1", models.ChoiceA); !IsKind(err, KindState) {
		t.Fatalf("vote after expiry: %v", err)
	}
	if n, _ := env.lifecycle.FinalizeExpired(ctx); n != 1 {
		t.Fatalf("sweep completed %d", n)
	}
}

func TestLifecycleScheduler_RunsSweep(t *testing.T) {
	env := newTestEnv(t)
	c := env.createContest(t, 1)
	env.clock.Advance(2 * time.Hour)

	sched, err := StartLifecycleScheduler(env.lifecycle, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sched.Shutdown() }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if env.reload(t, c.ID).Status == models.StatusCompleted {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("scheduler did not finalize the expired contest")
}

func TestTransitions_StampUpdatedAtFromClock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createContest(t, 24)

	if stored := env.reload(t, c.ID); !stored.UpdatedAt.Equal(testEpoch) {
		t.Fatalf("created updated_at = %v, want %v", stored.UpdatedAt, testEpoch)
	}

	env.clock.Advance(90 * time.Minute)
	if _, err := env.lifecycle.Pause(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	want := testEpoch.Add(90 * time.Minute)
	if stored := env.reload(t, c.ID); !stored.UpdatedAt.Equal(want) {
		t.Fatalf("paused updated_at = %v, want %v", stored.UpdatedAt, want)
	}

	env.clock.Advance(time.Hour)
	if _, err := env.lifecycle.Resume(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	env.vote(t, c.ID, "u1", models.ChoiceA)
	want = want.Add(time.Hour)
	if stored := env.reload(t, c.ID); !stored.UpdatedAt.Equal(want) {
		t.Fatalf("updated_at after vote = %v, want %v", stored.UpdatedAt, want)
	}
}
