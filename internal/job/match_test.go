package job_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/jobvoice/internal/job"
)

func apps(companies ...string) []job.Application {
	out := make([]job.Application, len(companies))
	for i, c := range companies {
		out[i] = job.Application{ID: c, Company: c, Role: "Engineer"}
	}
	return out
}

func TestMatchCompany(t *testing.T) {
	t.Parallel()

	list := apps("Globex", "Stripe Inc.", "stripe partners")
	tests := []struct {
		query string
		want  string
		ok    bool
	}{
		{"stripe", "Stripe Inc.", true},
		{"STRIPE INC", "Stripe Inc.", true},
		{"  partners ", "stripe partners", true},
		{"lobe", "Globex", true},
		{"", "", false},
		{"acme", "", false},
	}
	for _, tc := range tests {
		got, ok := job.MatchCompany(list, tc.query)
		if ok != tc.ok || got.Company != tc.want {
			t.Errorf("MatchCompany(%q) = %q, %v; want %q, %v", tc.query, got.Company, ok, tc.want, tc.ok)
		}
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	list := apps("Stripe Inc.", "Globex Corporation", "Initech")

	tests := []struct {
		query string
		want  string
		ok    bool
	}{
		{"strype", "Stripe Inc.", true},
		{"globecks", "Globex Corporation", true},
		{"initek", "Initech", true},
		{"microsoft", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := job.Suggest(list, tc.query)
		if ok != tc.ok || got != tc.want {
			t.Errorf("Suggest(%q) = %q, %v; want %q, %v", tc.query, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]job.Status{
		"applied":        job.StatusApplied,
		" Interviewing ": job.StatusInterviewing,
		"OFFER":          job.StatusOffer,
	} {
		got, err := job.ParseStatus(in)
		if err != nil || got != want {
			t.Errorf("ParseStatus(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := job.ParseStatus("ghosted"); !errors.Is(err, job.ErrInvalid) {
		t.Errorf("ParseStatus(ghosted) err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := job.Application{Company: "A", Role: "B", Status: job.StatusWishlist, DateApplied: "2026-01-31"}
	if err := job.Validate(ok); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name string
		app  job.Application
	}{
		{"no company", job.Application{Role: "B", Status: job.StatusApplied}},
		{"no role", job.Application{Company: "A", Status: job.StatusApplied}},
		{"bad status", job.Application{Company: "A", Role: "B", Status: "Maybe"}},
		{"bad date", job.Application{Company: "A", Role: "B", Status: job.StatusApplied, DateApplied: "31/01/2026"}},
	}
	for _, tc := range tests {
		if err := job.Validate(tc.app); !errors.Is(err, job.ErrInvalid) {
			t.Errorf("%s: Validate = %v, want ErrInvalid", tc.name, err)
		}
	}
}

func TestPatchApply(t *testing.T) {
	t.Parallel()

	base := job.Application{Company: "A", Role: "B", Notes: "n"}
	if !(job.Patch{}).IsEmpty() {
		t.Error("zero Patch should be empty")
	}
	got := job.Patch{Role: ptr("C"), Notes: ptr("")}.Apply(base)
	if got.Company != "A" || got.Role != "C" || got.Notes != "" {
		t.Errorf("Apply = %+v", got)
	}
}
