package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/nextup/internal/platform/auth"
	"github.com/example/nextup/internal/queue/idempotency"
	"github.com/example/nextup/internal/queue/service"
	"github.com/example/nextup/internal/queue/store"
)

func newTestRouter(t *testing.T) (chi.Router, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	gate, err := idempotency.New("", "", 0, false)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	svc := service.New(st, gate, nil, zap.NewNop(), 0)
	h := New(svc, nil, zap.NewNop())

	r := chi.NewRouter()
	h.Mount(r)
	return r, st
}

// do sends a request as the given user and returns the recorder.
func do(r chi.Router, method, url, body, userID string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	if userID != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeEntry(t *testing.T, rr *httptest.ResponseRecorder) entryResponse {
	t.Helper()
	var e entryResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	return e
}

func TestEnqueue(t *testing.T) {
	r, _ := newTestRouter(t)
	userID := uuid.NewString()

	rr := do(r, http.MethodPost, "/v1/queue", `{"content_id":"track-1"}`, userID)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	e := decodeEntry(t, rr)
	if e.ContentID != "track-1" {
		t.Fatalf("expected content_id 'track-1', got %q", e.ContentID)
	}
	if e.UserID != userID {
		t.Fatalf("expected user_id %q, got %q", userID, e.UserID)
	}
	if e.Content != nil || e.Session != nil {
		t.Fatal("expected null content and session without a collaborator")
	}
}

func TestEnqueue_Unauthorized(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := do(r, http.MethodPost, "/v1/queue", `{"content_id":"track-1"}`, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestEnqueue_MissingContentID(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := do(r, http.MethodPost, "/v1/queue", `{"content_id":""}`, uuid.NewString())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestEnqueue_DuplicateKeyConflicts(t *testing.T) {
	r, st := newTestRouter(t)
	userID := uuid.NewString()
	body := `{"content_id":"track-1","idempotency_key":"abc"}`

	if rr := do(r, http.MethodPost, "/v1/queue", body, userID); rr.Code != http.StatusCreated {
		t.Fatalf("first enqueue: expected 201, got %d", rr.Code)
	}
	rr := do(r, http.MethodPost, "/v1/queue", body, userID)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}

	entries, _ := st.List(context.Background(), uuid.MustParse(userID))
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(entries))
	}
}

func TestEnqueue_ConcurrentDuplicateKey_OneWinner(t *testing.T) {
	r, st := newTestRouter(t)
	userID := uuid.NewString()
	body := `{"content_id":"track-x","idempotency_key":"race"}`

	const callers = 8
	codes := make([]int, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			codes[i] = do(r, http.MethodPost, "/v1/queue", body, userID).Code
		}(i)
	}
	close(start)
	wg.Wait()

	created, conflicted := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicted++
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	if created != 1 || conflicted != callers-1 {
		t.Fatalf("expected 1 created / %d conflicts, got %d / %d", callers-1, created, conflicted)
	}

	entries, _ := st.List(context.Background(), uuid.MustParse(userID))
	if len(entries) != 1 {
		t.Fatalf("expected exactly one stored entry, got %d", len(entries))
	}
}

func TestAdvance_EmptyQueue(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := do(r, http.MethodPost, "/v1/queue/advance", "", uuid.NewString())
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for empty queue, got %d", rr.Code)
	}
}

func TestEnqueueAdvanceMove_Scenario(t *testing.T) {
	r, _ := newTestRouter(t)
	userID := uuid.NewString()

	var ids []string
	for _, c := range []string{"a", "b", "c"} {
		rr := do(r, http.MethodPost, "/v1/queue", fmt.Sprintf(`{"content_id":%q}`, c), userID)
		if rr.Code != http.StatusCreated {
			t.Fatalf("enqueue %q: %d", c, rr.Code)
		}
		ids = append(ids, decodeEntry(t, rr).ID)
	}

	// First advance plays A.
	rr := do(r, http.MethodPost, "/v1/queue/advance", "", userID)
	if rr.Code != http.StatusOK {
		t.Fatalf("advance: %d", rr.Code)
	}
	if got := decodeEntry(t, rr).ContentID; got != "a" {
		t.Fatalf("expected 'a', got %q", got)
	}

	// Move C to the front; it plays before B.
	rr = do(r, http.MethodPost, "/v1/queue/"+ids[2]+"/move", `{}`, userID)
	if rr.Code != http.StatusOK {
		t.Fatalf("move: %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(r, http.MethodPost, "/v1/queue/advance", "", userID)
	if got := decodeEntry(t, rr).ContentID; got != "c" {
		t.Fatalf("expected 'c', got %q", got)
	}
	rr = do(r, http.MethodPost, "/v1/queue/advance", "", userID)
	if got := decodeEntry(t, rr).ContentID; got != "b" {
		t.Fatalf("expected 'b', got %q", got)
	}
}

func TestMove_AfterEntry(t *testing.T) {
	r, _ := newTestRouter(t)
	userID := uuid.NewString()

	first := decodeEntry(t, do(r, http.MethodPost, "/v1/queue", `{"content_id":"a"}`, userID))
	second := decodeEntry(t, do(r, http.MethodPost, "/v1/queue", `{"content_id":"b"}`, userID))

	body := fmt.Sprintf(`{"after_entry_id":%q}`, second.ID)
	rr := do(r, http.MethodPost, "/v1/queue/"+first.ID+"/move", body, userID)
	if rr.Code != http.StatusOK {
		t.Fatalf("move: %d: %s", rr.Code, rr.Body.String())
	}
	moved := decodeEntry(t, rr)
	if moved.Position <= second.Position {
		t.Fatalf("expected position after %v, got %v", second.Position, moved.Position)
	}
}

func TestMove_UnknownEntry(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := do(r, http.MethodPost, "/v1/queue/"+uuid.NewString()+"/move", `{}`, uuid.NewString())
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMove_BadEntryID(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := do(r, http.MethodPost, "/v1/queue/not-a-uuid/move", `{}`, uuid.NewString())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRemove(t *testing.T) {
	r, _ := newTestRouter(t)
	userID := uuid.NewString()

	e := decodeEntry(t, do(r, http.MethodPost, "/v1/queue", `{"content_id":"a"}`, userID))

	if rr := do(r, http.MethodDelete, "/v1/queue/"+e.ID, "", userID); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := do(r, http.MethodDelete, "/v1/queue/"+e.ID, "", userID); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on double delete, got %d", rr.Code)
	}
}

func TestAttachSession(t *testing.T) {
	r, _ := newTestRouter(t)
	userID := uuid.NewString()

	e := decodeEntry(t, do(r, http.MethodPost, "/v1/queue", `{"content_id":"a"}`, userID))

	rr := do(r, http.MethodPut, "/v1/queue/"+e.ID+"/session", `{"session_id":"sess-1"}`, userID)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(r, http.MethodPut, "/v1/queue/"+e.ID+"/session", `{"session_id":""}`, userID)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty session_id, got %d", rr.Code)
	}

	rr = do(r, http.MethodPut, "/v1/queue/"+uuid.NewString()+"/session", `{"session_id":"sess-2"}`, userID)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown entry, got %d", rr.Code)
	}
}

func TestList_PlayOrder(t *testing.T) {
	r, _ := newTestRouter(t)
	userID := uuid.NewString()

	for _, c := range []string{"a", "b", "c"} {
		do(r, http.MethodPost, "/v1/queue", fmt.Sprintf(`{"content_id":%q}`, c), userID)
	}

	rr := do(r, http.MethodGet, "/v1/queue", "", userID)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	var resp queueResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(resp.Entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if resp.Entries[i].ContentID != want {
			t.Fatalf("entry %d: expected %q, got %q", i, want, resp.Entries[i].ContentID)
		}
	}
}

func TestHead(t *testing.T) {
	r, _ := newTestRouter(t)
	userID := uuid.NewString()

	if rr := do(r, http.MethodGet, "/v1/queue/head", "", userID); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for empty queue, got %d", rr.Code)
	}

	do(r, http.MethodPost, "/v1/queue", `{"content_id":"a"}`, userID)
	rr := do(r, http.MethodGet, "/v1/queue/head", "", userID)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeEntry(t, rr).ContentID; got != "a" {
		t.Fatalf("expected 'a', got %q", got)
	}
}
