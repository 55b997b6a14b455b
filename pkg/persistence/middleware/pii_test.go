package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/tiller/pkg/domain"
	"github.com/aretw0/tiller/pkg/persistence/middleware"
)

func TestPIIMiddleware_MasksMessageText(t *testing.T) {
	// Setup
	underlyingStore := NewMockStore()
	// Mask card-number-like digit runs
	mw := middleware.NewPIIMiddleware(`\b\d{13,19}\b`, nil)
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	original := domain.MessageData{Text: "charge card 4111111111111111 please", Participant: "Dana"}
	event := domain.Event{
		Kind:   domain.EventMessage,
		Source: domain.SourceCustomer,
		Data:   original,
	}

	if _, err := secureStore.Append(ctx, "pii-session", event); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Verify the in-memory payload is NOT MODIFIED (immutability check)
	if original.Text != "charge card 4111111111111111 please" {
		t.Error("Middleware modified original payload in memory!")
	}

	stored, err := underlyingStore.Read(ctx, "pii-session", 0)
	if err != nil {
		t.Fatalf("Underlying read failed: %v", err)
	}
	data := stored[0].Data.(domain.MessageData)
	if data.Text != "charge card *** please" {
		t.Errorf("Expected card number masked, got %q", data.Text)
	}
	if data.Participant != "Dana" {
		t.Error("Participant shouldn't be touched")
	}
}

func TestPIIMiddleware_MasksToolCallKeys(t *testing.T) {
	underlyingStore := NewMockStore()
	// Mask keys containing "password" or "ssn"
	mw := middleware.NewPIIMiddleware("", []string{"password", "ssn"})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	record := domain.ToolCallRecord{
		ToolID: "accounts:update",
		Arguments: map[string]any{
			"username":      "jdoe",
			"user_password": "secret123",
		},
		Result: map[string]any{
			"status":     "ok",
			"ssn_number": "999-99-9999",
		},
	}
	event := domain.Event{
		Kind:   domain.EventToolCall,
		Source: domain.SourceAgent,
		Data:   domain.ToolCallData{Calls: []domain.ToolCallRecord{record}},
	}

	if _, err := secureStore.Append(ctx, "pii-session", event); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Verify the in-memory record is NOT MODIFIED (immutability check)
	if record.Arguments["user_password"] != "secret123" {
		t.Error("Middleware modified original arguments in memory!")
	}

	stored, err := underlyingStore.Read(ctx, "pii-session", 0)
	if err != nil {
		t.Fatalf("Underlying read failed: %v", err)
	}
	call := stored[0].Data.(domain.ToolCallData).Calls[0]

	if call.Arguments["username"] != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if call.Arguments["user_password"] != "***" {
		t.Errorf("Password should be masked, got: %v", call.Arguments["user_password"])
	}
	result := call.Result.(map[string]any)
	if result["ssn_number"] != "***" {
		t.Errorf("SSN should be masked, got: %v", result["ssn_number"])
	}
	if result["status"] != "ok" {
		t.Error("Safe result field shouldn't be masked")
	}
}
