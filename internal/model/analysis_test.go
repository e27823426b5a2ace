package model

import (
	"strings"
	"testing"
	"time"
)

func TestAccuracy_Label(t *testing.T) {
	tests := []struct {
		accuracy Accuracy
		want     string
	}{
		{AccuracyAccurate, "Accurate"},
		{AccuracyPartiallyAccurate, "Partially Accurate"},
		{AccuracyInaccurate, "Inaccurate"},
		{Accuracy("unknown"), "Inaccurate"},
	}
	for _, tt := range tests {
		if got := tt.accuracy.Label(); got != tt.want {
			t.Errorf("Accuracy(%q).Label() = %q, want %q", tt.accuracy, got, tt.want)
		}
	}
}

func TestAccuracy_Valid(t *testing.T) {
	for _, a := range []Accuracy{AccuracyAccurate, AccuracyPartiallyAccurate, AccuracyInaccurate} {
		if !a.Valid() {
			t.Errorf("Accuracy(%q).Valid() = false, want true", a)
		}
	}
	for _, a := range []Accuracy{"", "Accurate", "partially accurate"} {
		if a.Valid() {
			t.Errorf("Accuracy(%q).Valid() = true, want false", a)
		}
	}
}

func TestNewAnalysis_BuildsRecord(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 30, 15, 123_000_000, time.FixedZone("JST", 9*3600))
	data := AnalysisData{
		Summary:    "ok",
		Accuracy:   AccuracyPartiallyAccurate,
		Confidence: 5,
	}

	a := NewAnalysis("1709253015123", "short claim", data, now)

	if a.ID != "1709253015123" {
		t.Errorf("ID = %q, want %q", a.ID, "1709253015123")
	}
	if a.OriginalText != "short claim" {
		t.Errorf("OriginalText = %q, want %q", a.OriginalText, "short claim")
	}
	if a.OverallAccuracy != "Partially Accurate" {
		t.Errorf("OverallAccuracy = %q, want %q", a.OverallAccuracy, "Partially Accurate")
	}
	if a.Timestamp != "2024-03-01T00:30:15.123Z" {
		t.Errorf("Timestamp = %q, want %q", a.Timestamp, "2024-03-01T00:30:15.123Z")
	}
	if a.Sources == nil {
		t.Error("Sources がnilになっている")
	}
}

func TestNewAnalysis_TruncatesPreview(t *testing.T) {
	content := strings.Repeat("あ", 120)

	a := NewAnalysis("1", content, AnalysisData{Accuracy: AccuracyAccurate}, time.Now())

	want := strings.Repeat("あ", 100) + "..."
	if a.OriginalText != want {
		t.Errorf("OriginalText rune数 = %d, want 103", len([]rune(a.OriginalText)))
	}
}

func TestPreview_ExactLengthNotTruncated(t *testing.T) {
	s := strings.Repeat("a", 100)
	if got := Preview(s, 100); got != s {
		t.Errorf("Preview() = %q, want unchanged", got)
	}
}

func TestAnalysis_Matches(t *testing.T) {
	a := &Analysis{OriginalText: "Coffee improves memory", Summary: "Studies on CAFFEINE show mixed results"}

	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"  ", true},
		{"coffee", true},
		{"caffeine", true},
		{"MEMORY", true},
		{"tea", false},
	}
	for _, tt := range tests {
		if got := a.Matches(tt.query); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestValidScope(t *testing.T) {
	valid := []string{"guest", "user-123", "alice@example.com", "a.b_c"}
	for _, s := range valid {
		if !ValidScope(s) {
			t.Errorf("ValidScope(%q) = false, want true", s)
		}
	}
	invalid := []string{"", "has space", "slash/key", strings.Repeat("x", 129)}
	for _, s := range invalid {
		if ValidScope(s) {
			t.Errorf("ValidScope(%q) = true, want false", s)
		}
	}
}

func TestNewRemoteServiceError_CarriesStatus(t *testing.T) {
	err := NewRemoteServiceError(502, "bad gateway")

	if err.UpstreamStatus != 502 {
		t.Errorf("UpstreamStatus = %d, want 502", err.UpstreamStatus)
	}
	if err.Code != ErrCodeRemoteService {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeRemoteService)
	}
	if !strings.Contains(err.Error(), "upstream status 502") {
		t.Errorf("Error() = %q, upstream statusを含むべき", err.Error())
	}
}

func TestNewRemoteServiceError_TransportFailure(t *testing.T) {
	err := NewRemoteServiceError(0, "")

	if err.UpstreamStatus != 0 {
		t.Errorf("UpstreamStatus = %d, want 0", err.UpstreamStatus)
	}
	if strings.Contains(err.Error(), "upstream status") {
		t.Errorf("Error() = %q, ステータス不明時はupstream statusを含まないべき", err.Error())
	}
}
