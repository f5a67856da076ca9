package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestRequest_Clone(t *testing.T) {
	req := Request{
		"method": "GET",
		"query":  map[string]any{"page": "1"},
	}

	clone := req.Clone()
	clone["method"] = "POST"
	clone["query"].(map[string]any)["page"] = "9"

	if req["method"] != "GET" {
		t.Errorf("clone mutation leaked into original method: %v", req["method"])
	}
	if req["query"].(map[string]any)["page"] != "1" {
		t.Errorf("clone mutation leaked into original query: %v", req["query"])
	}
}

func TestDetailsFromError_Structured(t *testing.T) {
	err := fmt.Errorf("respond: %w", &RequestError{Code: "bad request", Message: "no such stub"})

	d := DetailsFromError(err)
	if d.Code != "bad request" || d.Message != "no such stub" {
		t.Errorf("expected structured payload preserved, got %+v", d)
	}
}

func TestDetailsFromError_Plain(t *testing.T) {
	d := DetailsFromError(errors.New("boom"))
	if d.Code != "error" || d.Message != "boom" {
		t.Errorf("unexpected details: %+v", d)
	}
}

func TestDetailsFromPanic(t *testing.T) {
	d := DetailsFromPanic("index out of range")
	if d.Code != "panic" || d.Message != "index out of range" {
		t.Errorf("unexpected details: %+v", d)
	}

	d = DetailsFromPanic(errors.New("nil map write"))
	if d.Code != "panic" || d.Message != "nil map write" {
		t.Errorf("unexpected details: %+v", d)
	}
}
