package httputil

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hut8/soar/internal/testutil"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := testutil.NewTestRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := testutil.NewTestRecorder()
	data := map[string]string{"message": "hello"}
	WriteJSON(rec, http.StatusCreated, data)

	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)

	var resp map[string]string
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	if resp["message"] != "hello" {
		t.Errorf("message = %s, want 'hello'", resp["message"])
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := testutil.NewTestRecorder()
	data := map[string]int{"count": 42}
	WriteJSONOK(rec, data)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp map[string]int
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	if resp["count"] != 42 {
		t.Errorf("count = %d, want 42", resp["count"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	rec := testutil.NewTestRecorder()
	MethodNotAllowed(rec)

	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestBadRequest(t *testing.T) {
	t.Parallel()

	rec := testutil.NewTestRecorder()
	BadRequest(rec, "invalid input")

	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestInternalServerError(t *testing.T) {
	t.Parallel()

	rec := testutil.NewTestRecorder()
	InternalServerError(rec, "something went wrong")

	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	rec := testutil.NewTestRecorder()
	NotFound(rec, "resource not found")

	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}
