// Package repotest holds the behavioural suite every storage backend must
// pass, so the backends stay interchangeable.
package repotest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
)

// Factory returns a fresh, empty pair of stores sharing one backend.
type Factory func(t *testing.T) (repository.RuleStore, repository.FilterStore)

// Run executes the suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, rules repository.RuleStore, filters repository.FilterStore)
	}{
		{"CreateThenGet", testCreateThenGet},
		{"TextRoundTrip", testTextRoundTrip},
		{"DuplicateEmail", testDuplicateEmail},
		{"RequiredFields", testRequiredFields},
		{"GetUnknown", testGetUnknown},
		{"FindByEmail", testFindByEmail},
		{"ListOrderAndClamp", testListOrderAndClamp},
		{"UpdatePartial", testUpdatePartial},
		{"UpdateErrors", testUpdateErrors},
		{"DeleteRule", testDeleteRule},
		{"FilterFlagSync", testFilterFlagSync},
		{"FilterReplace", testFilterReplace},
		{"FilterUnknownRule", testFilterUnknownRule},
		{"FilterNotAliased", testFilterNotAliased},
		{"DeleteFilterThenRule", testDeleteFilterThenRule},
		{"Search", testSearch},
		{"SearchLiteralWildcards", testSearchLiteralWildcards},
		{"Statistics", testStatistics},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, filters := factory(t)
			tt.fn(t, rules, filters)
		})
	}
}

func mustCreate(t *testing.T, rules repository.RuleStore, email string) *model.Rule {
	t.Helper()
	rule, err := rules.Create(context.Background(), model.Rule{Email: email, Name: "User " + email})
	require.NoError(t, err)
	return rule
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func emails(rules []model.Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Email)
	}
	return out
}

func testCreateThenGet(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	ctx := context.Background()
	in := model.Rule{
		Email:             "user1@example.com",
		Name:              "John Doe",
		ForwardingEmail:   "forwarding@example.com",
		Disposition:       "keep",
		Error:             "",
		InvestigationNote: "Legitimate forwarding",
	}

	created, err := rules.Create(ctx, in)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.HasForwardingFilters)

	got, err := rules.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *created, *got)
	assert.Equal(t, in.Email, got.Email)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.ForwardingEmail, got.ForwardingEmail)
	assert.Equal(t, in.Disposition, got.Disposition)
	assert.Equal(t, in.InvestigationNote, got.InvestigationNote)
}

func testTextRoundTrip(t *testing.T, rules repository.RuleStore, filters repository.FilterStore) {
	ctx := context.Background()
	in := model.Rule{
		Email:             "crlf@example.com",
		Name:              "Line\rBreak",
		Disposition:       "a\\b",
		Error:             "lone\rreturn",
		InvestigationNote: "line1\r\nline2\r\n",
	}

	created, err := rules.Create(ctx, in)
	require.NoError(t, err)
	_, err = filters.Create(ctx, created.ID, map[string]interface{}{"subject": "a\r\nb"}, map[string]interface{}{}, "2024-01-15\r\n")
	require.NoError(t, err)

	got, err := rules.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.Disposition, got.Disposition)
	assert.Equal(t, in.Error, got.Error)
	assert.Equal(t, in.InvestigationNote, got.InvestigationNote)

	f, err := filters.GetForRule(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "a\r\nb", f.Criteria["subject"])
	assert.Equal(t, "2024-01-15\r\n", f.CreatedAt)
}

func testDuplicateEmail(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	ctx := context.Background()
	mustCreate(t, rules, "dup@example.com")

	_, err := rules.Create(ctx, model.Rule{Email: "dup@example.com", Name: "Other"})
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)

	stats, err := rules.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalRules)
}

func testRequiredFields(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	ctx := context.Background()

	_, err := rules.Create(ctx, model.Rule{})
	assert.ErrorIs(t, err, repository.ErrInvalidRule)
	_, err = rules.Create(ctx, model.Rule{Email: "noname@example.com", Name: "  "})
	assert.ErrorIs(t, err, repository.ErrInvalidRule)
	_, err = rules.Create(ctx, model.Rule{Email: " ", Name: "No Email"})
	assert.ErrorIs(t, err, repository.ErrInvalidRule)

	stats, err := rules.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRules)

	created := mustCreate(t, rules, "keep@example.com")
	_, err = rules.Update(ctx, created.ID, model.RuleUpdate{Name: strPtr("")})
	assert.ErrorIs(t, err, repository.ErrInvalidRule)
	_, err = rules.Update(ctx, created.ID, model.RuleUpdate{Email: strPtr("")})
	assert.ErrorIs(t, err, repository.ErrInvalidRule)

	got, err := rules.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *created, *got)
}

func testGetUnknown(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	_, err := rules.GetByID(context.Background(), 4242)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testFindByEmail(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	ctx := context.Background()
	created := mustCreate(t, rules, "exact@example.com")
	mustCreate(t, rules, "exact@example.com.au")

	got, err := rules.FindByEmail(ctx, "exact@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)

	missing, err := rules.FindByEmail(ctx, "exact@")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testListOrderAndClamp(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	ctx := context.Background()
	for _, e := range []string{"c@x.com", "a@x.com", "b@x.com"} {
		mustCreate(t, rules, e)
	}

	all, err := rules.List(ctx, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"c@x.com", "a@x.com", "b@x.com"}, emails(all))

	page, err := rules.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, emails(page))

	tail, err := rules.List(ctx, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@x.com"}, emails(tail))

	past, err := rules.List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, past)

	negative, err := rules.List(ctx, -3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c@x.com", "a@x.com"}, emails(negative))

	none, err := rules.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUpdatePartial(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	ctx := context.Background()
	created, err := rules.Create(ctx, model.Rule{
		Email:           "partial@example.com",
		Name:            "Partial",
		ForwardingEmail: "fwd@example.com",
		Disposition:     "archive",
	})
	require.NoError(t, err)

	updated, err := rules.Update(ctx, created.ID, model.RuleUpdate{InvestigationNote: strPtr("Approved by manager")})
	require.NoError(t, err)
	assert.Equal(t, "Approved by manager", updated.InvestigationNote)
	assert.Equal(t, "fwd@example.com", updated.ForwardingEmail)
	assert.Equal(t, "archive", updated.Disposition)

	cleared, err := rules.Update(ctx, created.ID, model.RuleUpdate{ForwardingEmail: strPtr("")})
	require.NoError(t, err)
	assert.Empty(t, cleared.ForwardingEmail)
	assert.Equal(t, "Approved by manager", cleared.InvestigationNote)

	got, err := rules.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *cleared, *got)

	same, err := rules.Update(ctx, created.ID, model.RuleUpdate{})
	require.NoError(t, err)
	assert.Equal(t, *got, *same)
}

func testUpdateErrors(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	ctx := context.Background()
	first := mustCreate(t, rules, "first@example.com")
	mustCreate(t, rules, "second@example.com")

	_, err := rules.Update(ctx, 9999, model.RuleUpdate{Name: strPtr("ghost")})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = rules.Update(ctx, first.ID, model.RuleUpdate{Email: strPtr("second@example.com")})
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)

	got, err := rules.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", got.Email)

	renamed, err := rules.Update(ctx, first.ID, model.RuleUpdate{Email: strPtr("first@example.com")})
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", renamed.Email)
}

func testDeleteRule(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	ctx := context.Background()
	rule := mustCreate(t, rules, "gone@example.com")

	require.NoError(t, rules.Delete(ctx, rule.ID))
	_, err := rules.GetByID(ctx, rule.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, rules.Delete(ctx, rule.ID), repository.ErrNotFound)

	// The email is free again once the rule is gone.
	mustCreate(t, rules, "gone@example.com")
}

func testFilterFlagSync(t *testing.T, rules repository.RuleStore, filters repository.FilterStore) {
	ctx := context.Background()
	rule := mustCreate(t, rules, "flag@example.com")

	filter, err := filters.Create(ctx, rule.ID,
		map[string]interface{}{"from": "a@b.com"},
		map[string]interface{}{"forward": "c@d.com"},
		"2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, filter.RuleID)
	assert.Equal(t, "2024-01-15", filter.CreatedAt)

	got, err := rules.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, got.HasForwardingFilters)

	deleted, err := filters.DeleteForRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err = rules.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, got.HasForwardingFilters)

	deleted, err = filters.DeleteForRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testFilterReplace(t *testing.T, rules repository.RuleStore, filters repository.FilterStore) {
	ctx := context.Background()
	rule := mustCreate(t, rules, "replace@example.com")

	_, err := filters.Create(ctx, rule.ID, map[string]interface{}{"subject": "invoice"}, map[string]interface{}{"addLabels": "TRASH"}, "")
	require.NoError(t, err)
	_, err = filters.Create(ctx, rule.ID, map[string]interface{}{"subject": "timesheet"}, map[string]interface{}{"forward": "x@y.com"}, "2024-02-10")
	require.NoError(t, err)

	count, err := filters.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	got, err := filters.GetForRule(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "timesheet", got.Criteria["subject"])
	assert.Equal(t, "x@y.com", got.Action["forward"])
	assert.Equal(t, "2024-02-10", got.CreatedAt)
}

func testFilterUnknownRule(t *testing.T, rules repository.RuleStore, filters repository.FilterStore) {
	ctx := context.Background()
	_, err := filters.Create(ctx, 777, map[string]interface{}{"from": "a@b.com"}, map[string]interface{}{}, "")
	assert.ErrorIs(t, err, repository.ErrUnknownRule)

	count, err := filters.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	none, err := filters.GetForRule(ctx, 777)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testFilterNotAliased(t *testing.T, rules repository.RuleStore, filters repository.FilterStore) {
	ctx := context.Background()
	rule := mustCreate(t, rules, "alias@example.com")
	criteria := map[string]interface{}{"from": "a@b.com"}

	created, err := filters.Create(ctx, rule.ID, criteria, map[string]interface{}{"forward": "c@d.com"}, "")
	require.NoError(t, err)
	criteria["from"] = "changed@b.com"
	created.Action["forward"] = "changed@d.com"

	got, err := filters.GetForRule(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@b.com", got.Criteria["from"])
	assert.Equal(t, "c@d.com", got.Action["forward"])
}

func testDeleteFilterThenRule(t *testing.T, rules repository.RuleStore, filters repository.FilterStore) {
	ctx := context.Background()
	rule := mustCreate(t, rules, "cascade@example.com")
	_, err := filters.Create(ctx, rule.ID, map[string]interface{}{"from": "a@b.com"}, map[string]interface{}{"forward": "c@d.com"}, "")
	require.NoError(t, err)

	_, err = filters.DeleteForRule(ctx, rule.ID)
	require.NoError(t, err)
	require.NoError(t, rules.Delete(ctx, rule.ID))

	got, err := filters.GetForRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	count, err := filters.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testSearch(t *testing.T, rules repository.RuleStore, filters repository.FilterStore) {
	ctx := context.Background()
	user1 := mustCreate(t, rules, "user1@x.com")
	mustCreate(t, rules, "USER10@x.com")
	mustCreate(t, rules, "other@x.com")
	_, err := filters.Create(ctx, user1.ID, map[string]interface{}{"from": "a@b.com"}, map[string]interface{}{"forward": "c@d.com"}, "")
	require.NoError(t, err)

	found, err := rules.Search(ctx, repository.SearchQuery{EmailContains: strPtr("user1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"user1@x.com", "USER10@x.com"}, emails(found))

	withFilters, err := rules.Search(ctx, repository.SearchQuery{HasFilters: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, []string{"user1@x.com"}, emails(withFilters))

	both, err := rules.Search(ctx, repository.SearchQuery{EmailContains: strPtr("User1"), HasFilters: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, []string{"USER10@x.com"}, emails(both))

	all, err := rules.Search(ctx, repository.SearchQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mustCreate(t, rules, "ÄNNE@x.com")
	unicode, err := rules.Search(ctx, repository.SearchQuery{EmailContains: strPtr("änne")})
	require.NoError(t, err)
	assert.Equal(t, []string{"ÄNNE@x.com"}, emails(unicode))

	unicode, err = rules.Search(ctx, repository.SearchQuery{EmailContains: strPtr("ÄnNe@")})
	require.NoError(t, err)
	assert.Equal(t, []string{"ÄNNE@x.com"}, emails(unicode))

	none, err := rules.Search(ctx, repository.SearchQuery{EmailContains: strPtr("nobody")})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testSearchLiteralWildcards(t *testing.T, rules repository.RuleStore, _ repository.FilterStore) {
	ctx := context.Background()
	mustCreate(t, rules, "first_last@x.com")
	mustCreate(t, rules, "firstXlast@x.com")
	mustCreate(t, rules, "100%@x.com")

	found, err := rules.Search(ctx, repository.SearchQuery{EmailContains: strPtr("first_")})
	require.NoError(t, err)
	assert.Equal(t, []string{"first_last@x.com"}, emails(found))

	found, err = rules.Search(ctx, repository.SearchQuery{EmailContains: strPtr("%")})
	require.NoError(t, err)
	assert.Equal(t, []string{"100%@x.com"}, emails(found))
}

func testStatistics(t *testing.T, rules repository.RuleStore, filters repository.FilterStore) {
	ctx := context.Background()
	withFilter, err := rules.Create(ctx, model.Rule{
		Email:           "one@x.com",
		Name:            "One",
		ForwardingEmail: "fwd@x.com",
	})
	require.NoError(t, err)
	_, err = rules.Create(ctx, model.Rule{Email: "two@x.com", Name: "Two", Error: "Permission denied"})
	require.NoError(t, err)

	_, err = filters.Create(ctx, withFilter.ID,
		map[string]interface{}{"from": "a@b.com"},
		map[string]interface{}{"forward": "c@d.com"}, "")
	require.NoError(t, err)

	stats, err := rules.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Statistics{
		TotalRules:       2,
		ActiveForwarding: 1,
		RulesWithFilters: 1,
		RulesWithErrors:  1,
		TotalFilters:     1,
	}, stats)
}
