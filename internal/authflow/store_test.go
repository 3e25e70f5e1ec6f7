package authflow

import "testing"

func TestStoreApplyGenerationGuard(t *testing.T) {
	store := NewStore(ServerIdentity{ID: "srv-1"})
	gen := store.Generation()

	if !store.Apply(gen, func(st *FlowState) { st.ClientID = "client-1" }) {
		t.Fatal("write with current generation should be applied")
	}
	if got := store.Snapshot().ClientID; got != "client-1" {
		t.Errorf("ClientID = %q, want client-1", got)
	}

	store.Reset()

	// The old generation token must no longer be able to write.
	if store.Apply(gen, func(st *FlowState) { st.ClientID = "stale" }) {
		t.Error("write with a stale generation should be discarded")
	}
	st := store.Snapshot()
	if st.ClientID != "" {
		t.Errorf("stale write leaked into fresh state: ClientID = %q", st.ClientID)
	}
	if st.CurrentStep != StepIdle {
		t.Errorf("step after reset = %q, want %q", st.CurrentStep, StepIdle)
	}
	if st.Server.ID != "srv-1" {
		t.Errorf("reset must keep the server identity, got %q", st.Server.ID)
	}
}

func TestStoreResetIsIdempotentFromAnyStep(t *testing.T) {
	store := NewStore(ServerIdentity{ID: "srv-1"})

	steps := []Step{StepReceivedASMetadata, StepAuthorizationRequest, StepComplete}
	for _, step := range steps {
		gen := store.Generation()
		store.Apply(gen, func(st *FlowState) {
			st.CurrentStep = step
			st.AccessToken = "tok"
			st.Err = "boom"
		})

		store.Reset()
		st := store.Snapshot()
		if st.CurrentStep != StepIdle || st.AccessToken != "" || st.Err != "" {
			t.Errorf("reset from %q left residue: %+v", step, st)
		}
	}
}

func TestStoreHistoryAppendAndPatch(t *testing.T) {
	store := NewStore(ServerIdentity{ID: "srv-1"})
	gen := store.Generation()

	id, ok := store.appendHistory(gen, StepRequestASMetadata, HTTPRequestRecord{
		Method: "GET",
		URL:    "https://auth.example.com/.well-known/oauth-authorization-server",
	})
	if !ok {
		t.Fatal("append should succeed with the current generation")
	}

	st := store.Snapshot()
	if len(st.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(st.History))
	}
	if st.History[0].Response != nil {
		t.Error("entry must have no response before the call resolves")
	}

	if !store.patchHistory(gen, id, &HTTPResponseRecord{StatusCode: 200}, 5, "") {
		t.Fatal("patch should succeed with the current generation")
	}
	st = store.Snapshot()
	if st.History[0].Response == nil || st.History[0].Response.StatusCode != 200 {
		t.Errorf("patched entry = %+v", st.History[0])
	}

	// A patch arriving after a reset is dropped with the rest of the state.
	store.Reset()
	if store.patchHistory(gen, id, &HTTPResponseRecord{StatusCode: 500}, 0, "late") {
		t.Error("stale patch should be discarded")
	}
	if got := len(store.Snapshot().History); got != 0 {
		t.Errorf("history after reset = %d entries, want 0", got)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	store := NewStore(ServerIdentity{ID: "srv-1"})
	gen := store.Generation()

	store.Apply(gen, func(st *FlowState) {
		st.ASMetadata = &AuthorizationServerMetadata{
			Issuer:               "https://auth.example.com",
			CodeChallengeMethods: []string{"S256"},
		}
	})
	store.appendHistory(gen, StepRequestASMetadata, HTTPRequestRecord{
		Method:  "GET",
		URL:     "https://auth.example.com",
		Headers: map[string]string{"Accept": "application/json"},
	})

	snap := store.Snapshot()
	snap.ASMetadata.Issuer = "mutated"
	snap.ASMetadata.CodeChallengeMethods[0] = "plain"
	snap.History[0].Request.Headers["Accept"] = "mutated"

	fresh := store.Snapshot()
	if fresh.ASMetadata.Issuer != "https://auth.example.com" {
		t.Error("snapshot aliases the stored metadata")
	}
	if fresh.ASMetadata.CodeChallengeMethods[0] != "S256" {
		t.Error("snapshot aliases the stored metadata slices")
	}
	if fresh.History[0].Request.Headers["Accept"] != "application/json" {
		t.Error("snapshot aliases the stored history headers")
	}
}
