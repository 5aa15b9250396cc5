package archive

import (
	"testing"
	"time"

	"github.com/parleychat/parley/internal/models"
)

func TestBuildRecordMetrics(t *testing.T) {
	conv := &models.Conversation{
		ConversationID: "c-metrics",
		OrganizationID: "org-1",
		CreatedAt:      1_000_000,
		UpdatedAt:      1_090_000,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "Welcome", Timestamp: 1_000_000},
			{Role: models.RoleUser, Content: "first question", Timestamp: 1_010_000},
			{Role: models.RoleAssistant, Content: "first answer", Timestamp: 1_020_000},
			{Role: models.RoleUser, Content: "second question", Timestamp: 1_080_000},
			{Role: models.RoleAssistant, Content: "second answer", Timestamp: 1_090_000},
		},
	}

	archivedAt := time.Now()
	record := BuildRecord(conv, archivedAt)

	if record.TotalMessages != 5 {
		t.Errorf("expected 5 total messages, got %d", record.TotalMessages)
	}
	if record.UserMessages != 2 {
		t.Errorf("expected 2 user messages, got %d", record.UserMessages)
	}
	if record.AssistantMessages != 2 {
		t.Errorf("expected 2 assistant messages, got %d", record.AssistantMessages)
	}
	if record.SystemMessages != 1 {
		t.Errorf("expected 1 system message, got %d", record.SystemMessages)
	}
	if record.FirstUserMessage != "first question" {
		t.Errorf("expected first user message %q, got %q", "first question", record.FirstUserMessage)
	}
	if record.LastUserMessage != "second question" {
		t.Errorf("expected last user message %q, got %q", "second question", record.LastUserMessage)
	}
	if record.DurationMs != 90_000 {
		t.Errorf("expected duration 90000ms, got %d", record.DurationMs)
	}
	if !record.StartedAt.Equal(time.UnixMilli(1_000_000)) {
		t.Errorf("unexpected startedAt %v", record.StartedAt)
	}
	if !record.EndedAt.Equal(time.UnixMilli(1_090_000)) {
		t.Errorf("unexpected endedAt %v", record.EndedAt)
	}
	if !record.ArchivedAt.Equal(archivedAt) {
		t.Errorf("unexpected archivedAt %v", record.ArchivedAt)
	}
}

func TestBuildRecordEmptyConversation(t *testing.T) {
	conv := &models.Conversation{
		ConversationID: "c-empty",
		OrganizationID: "org-1",
		CreatedAt:      5_000,
		UpdatedAt:      5_000,
		Messages:       []models.Message{},
	}

	record := BuildRecord(conv, time.Now())

	if record.TotalMessages != 0 {
		t.Errorf("expected 0 messages, got %d", record.TotalMessages)
	}
	if record.FirstUserMessage != "" || record.LastUserMessage != "" {
		t.Errorf("expected empty user message fields, got %q / %q", record.FirstUserMessage, record.LastUserMessage)
	}
	if record.DurationMs != 0 {
		t.Errorf("expected 0 duration, got %d", record.DurationMs)
	}
}

func TestBuildRecordSingleUserMessage(t *testing.T) {
	conv := &models.Conversation{
		ConversationID: "c-single",
		CreatedAt:      0,
		UpdatedAt:      10,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "only one", Timestamp: 10},
		},
	}

	record := BuildRecord(conv, time.Now())

	if record.FirstUserMessage != "only one" {
		t.Errorf("expected first user message %q, got %q", "only one", record.FirstUserMessage)
	}
	if record.LastUserMessage != "only one" {
		t.Errorf("expected last user message %q, got %q", "only one", record.LastUserMessage)
	}
}
