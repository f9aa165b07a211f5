package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
)

var attribution = []json.RawMessage{json.RawMessage(`"attribution"`)}

func conditionalEntry() *manifest.PolicyEntry {
	return &manifest.PolicyEntry{Status: manifest.StatusConditional, Conditions: attribution}
}

func TestCheckConditions(t *testing.T) {
	conditional := conditionalEntry()

	tests := []struct {
		name        string
		entry       *manifest.PolicyEntry
		header      http.Header
		wantOK      bool
		wantMissing []string
	}{
		{name: "nil entry", entry: nil, wantOK: true},
		{name: "allowed entry", entry: &manifest.PolicyEntry{Status: manifest.StatusAllowed}, wantOK: true},
		{name: "refused entry", entry: &manifest.PolicyEntry{Status: manifest.StatusRefused}, wantOK: true},
		{
			name:        "both missing",
			entry:       conditional,
			header:      http.Header{},
			wantMissing: []string{MissingConsentReviewed, MissingConsentConditions},
		},
		{
			name:        "nil header",
			entry:       conditional,
			wantMissing: []string{MissingConsentReviewed, MissingConsentConditions},
		},
		{
			name:        "reviewed only",
			entry:       conditional,
			header:      http.Header{HeaderConsentReviewed: {"true"}},
			wantMissing: []string{MissingConsentConditions},
		},
		{
			name:        "empty value counts as missing",
			entry:       conditional,
			header:      http.Header{HeaderConsentReviewed: {""}, HeaderConsentConditions: {"attribution"}},
			wantMissing: []string{MissingConsentReviewed},
		},
		{
			name:   "both present",
			entry:  conditional,
			header: http.Header{HeaderConsentReviewed: {"true"}, HeaderConsentConditions: {"attribution"}},
			wantOK: true,
		},
		{
			name:   "conditional without conditions needs no evidence",
			entry:  &manifest.PolicyEntry{Status: manifest.StatusConditional},
			header: http.Header{},
			wantOK: true,
		},
		{
			name:        "empty conditions list still needs evidence",
			entry:       &manifest.PolicyEntry{Status: manifest.StatusConditional, Conditions: []json.RawMessage{}},
			header:      http.Header{},
			wantMissing: []string{MissingConsentReviewed, MissingConsentConditions},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckConditions(tt.entry, tt.header)
			assert.Equal(t, tt.wantOK, got.Satisfied)
			assert.Equal(t, tt.wantMissing, got.Missing)

			viaChecker := HeaderConditions{}.Check(context.Background(), ConditionInput{Policy: tt.entry, Header: tt.header})
			assert.Equal(t, got, viaChecker)
		})
	}
}

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) Check(ctx context.Context, in ConditionInput) ConditionResult {
	args := m.Called(ctx, in)
	return args.Get(0).(ConditionResult)
}

func TestConditionChain(t *testing.T) {
	ctx := context.Background()
	in := ConditionInput{
		Purpose: "training",
		Policy:  conditionalEntry(),
		Header:  http.Header{HeaderConsentReviewed: {"true"}},
	}

	extra := &mockChecker{}
	extra.On("Check", ctx, in).Return(ConditionResult{Missing: []string{"license"}})

	got := NewConditionChain(HeaderConditions{}, nil, extra).Check(ctx, in)
	assert.False(t, got.Satisfied)
	assert.Equal(t, []string{MissingConsentConditions, "license"}, got.Missing)
	extra.AssertExpectations(t)
}

func TestConditionChain_DefaultsToHeaders(t *testing.T) {
	in := ConditionInput{Policy: conditionalEntry()}

	got := NewConditionChain().Check(context.Background(), in)
	assert.False(t, got.Satisfied)
	assert.Equal(t, []string{MissingConsentReviewed, MissingConsentConditions}, got.Missing)
}
