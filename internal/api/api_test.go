package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxform/voxform/internal/models"
	"github.com/voxform/voxform/internal/script"
	"github.com/voxform/voxform/internal/store"
)

// acceptAllValidator echoes every transcript back as a valid answer.
type acceptAllValidator struct{}

func (acceptAllValidator) Validate(ctx context.Context, question string, qtype models.QuestionType, transcript string, choices []string) models.ValidationResult {
	return models.ValidationResult{Valid: true, Normalized: transcript}
}

func testServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	scr, err := script.New("intake", []models.QuestionDef{
		{ID: "q1", Prompt: "Do you own a car?", Type: models.QuestionTypeYesNo},
		{ID: "q2", Prompt: "How do you usually commute?", Type: models.QuestionTypeOpen},
	})
	if err != nil {
		t.Fatalf("script.New failed: %v", err)
	}
	st := store.NewInMemoryStore()
	srv := NewServer(map[string]*script.Script{"intake": scr}, acceptAllValidator{}, st)
	return srv, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp models.APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response failed: %v (body %q)", err, rec.Body.String())
		}
	}
	return rec, resp
}

func sessionViewFrom(t *testing.T, resp models.APIResponse) sessionView {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result failed: %v", err)
	}
	var view sessionView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("decode session view failed: %v", err)
	}
	return view
}

func TestCreateSessionReturnsFirstQuestion(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	rec, resp := doJSON(t, h, http.MethodPost, "/sessions", createSessionRequest{Script: "intake"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	view := sessionViewFrom(t, resp)
	if view.ID == "" || view.Done {
		t.Errorf("unexpected view %+v", view)
	}
	if len(view.Utterances) != 1 || view.Utterances[0].Text != "Do you own a car?" {
		t.Errorf("expected first question, got %+v", view.Utterances)
	}
}

func TestCreateSessionUnknownScript(t *testing.T) {
	srv, _ := testServer(t)
	rec, resp := doJSON(t, srv.Handler(), http.MethodPost, "/sessions", createSessionRequest{Script: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp.Status != string(models.APIStatusError) {
		t.Errorf("expected error envelope, got %+v", resp)
	}
}

func TestSubmitTranscriptDrivesSessionToArchive(t *testing.T) {
	srv, st := testServer(t)
	h := srv.Handler()

	_, resp := doJSON(t, h, http.MethodPost, "/sessions", createSessionRequest{Script: "intake"})
	id := sessionViewFrom(t, resp).ID

	rec, resp := doJSON(t, h, http.MethodPost, "/sessions/"+id+"/transcript", submitTranscriptRequest{Transcript: "YES"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	view := sessionViewFrom(t, resp)
	if view.Done {
		t.Fatal("session must not be done after first answer")
	}

	rec, resp = doJSON(t, h, http.MethodPost, "/sessions/"+id+"/transcript", submitTranscriptRequest{Transcript: "by train"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if view = sessionViewFrom(t, resp); !view.Done {
		t.Fatal("expected done session after final answer")
	}

	// Terminal sessions leave the registry and land in the archive.
	rec, _ = doJSON(t, h, http.MethodGet, "/sessions/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for archived session, got %d", rec.Code)
	}
	iv, err := st.GetInterview(id)
	if err != nil || iv == nil {
		t.Fatalf("expected archived interview, got %+v, %v", iv, err)
	}
	if iv.Answers["q2"].Normalized != "by train" {
		t.Errorf("unexpected archived answers %+v", iv.Answers)
	}
}

func TestDeleteSessionArchivesPartialInterview(t *testing.T) {
	srv, st := testServer(t)
	h := srv.Handler()

	_, resp := doJSON(t, h, http.MethodPost, "/sessions", createSessionRequest{Script: "intake"})
	id := sessionViewFrom(t, resp).ID

	if _, err := doJSONStatus(t, h, http.MethodPost, "/sessions/"+id+"/transcript", submitTranscriptRequest{Transcript: "YES"}, http.StatusOK); err != nil {
		t.Fatal(err)
	}

	rec, _ := doJSON(t, h, http.MethodDelete, "/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	iv, err := st.GetInterview(id)
	if err != nil || iv == nil {
		t.Fatalf("expected partial interview archived, got %+v, %v", iv, err)
	}
	if iv.Answers["q1"].Normalized != "YES" {
		t.Errorf("expected partial answers preserved, got %+v", iv.Answers)
	}

	// The closed session rejects further transcripts.
	rec, _ = doJSON(t, h, http.MethodPost, "/sessions/"+id+"/transcript", submitTranscriptRequest{Transcript: "late"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after abandonment, got %d", rec.Code)
	}
}

func doJSONStatus(t *testing.T, h http.Handler, method, path string, body interface{}, want int) (models.APIResponse, error) {
	t.Helper()
	rec, resp := doJSON(t, h, method, path, body)
	if rec.Code != want {
		return resp, fmt.Errorf("%s %s: expected %d, got %d (%s)", method, path, want, rec.Code, rec.Body.String())
	}
	return resp, nil
}

func TestInterviewEndpoints(t *testing.T) {
	srv, st := testServer(t)
	h := srv.Handler()

	_, resp := doJSON(t, h, http.MethodPost, "/sessions", createSessionRequest{Script: "intake"})
	id := sessionViewFrom(t, resp).ID
	for _, a := range []string{"YES", "by train"} {
		if _, err := doJSONStatus(t, h, http.MethodPost, "/sessions/"+id+"/transcript", submitTranscriptRequest{Transcript: a}, http.StatusOK); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := doJSONStatus(t, h, http.MethodGet, "/interviews", nil, http.StatusOK); err != nil {
		t.Fatal(err)
	}
	if _, err := doJSONStatus(t, h, http.MethodGet, "/interviews/"+id, nil, http.StatusOK); err != nil {
		t.Fatal(err)
	}
	if _, err := doJSONStatus(t, h, http.MethodDelete, "/interviews/"+id, nil, http.StatusOK); err != nil {
		t.Fatal(err)
	}
	if iv, _ := st.GetInterview(id); iv != nil {
		t.Error("expected interview deleted from archive")
	}
	if _, err := doJSONStatus(t, h, http.MethodGet, "/interviews/"+id, nil, http.StatusNotFound); err != nil {
		t.Fatal(err)
	}
}

func TestStatusReportsCapabilities(t *testing.T) {
	scr, err := script.New("intake", []models.QuestionDef{
		{ID: "q1", Prompt: "Do you own a car?", Type: models.QuestionTypeYesNo},
	})
	if err != nil {
		t.Fatalf("script.New failed: %v", err)
	}
	srv := NewServer(map[string]*script.Script{"intake": scr}, acceptAllValidator{}, store.NewInMemoryStore(),
		WithCapabilities(models.Capabilities{
			TTSAvailable:        true,
			ValidationAvailable: true,
			FollowupsAvailable:  false,
			Provider:            "openai",
		}))

	rec, resp := doJSON(t, srv.Handler(), http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape %T", resp.Result)
	}
	raw, err := json.Marshal(result["capabilities"])
	if err != nil {
		t.Fatalf("re-marshal capabilities failed: %v", err)
	}
	var caps models.Capabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		t.Fatalf("decode capabilities failed: %v", err)
	}
	if !caps.TTSAvailable || !caps.ValidationAvailable || caps.FollowupsAvailable {
		t.Errorf("unexpected capabilities %+v", caps)
	}
	if caps.Provider != "openai" {
		t.Errorf("expected provider openai, got %q", caps.Provider)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	rec, resp := doJSON(t, srv.Handler(), http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok envelope, got %+v", resp)
	}
}

func TestSessionsMethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t)
	rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/sessions", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
