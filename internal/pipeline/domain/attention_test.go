package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func sidePtr(s Side) *Side {
	return &s
}

func TestClassifyAttention(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		side *Side
		due  *time.Time
		want AttentionClass
	}{
		{"contact spoke last", sidePtr(SideContact), nil, AttentionNeeded},
		{"contact spoke last and action pending", sidePtr(SideContact), &future, AttentionNeeded},
		{"user spoke last, action overdue", sidePtr(SideUser), &past, AttentionNeeded},
		{"user spoke last, no action", sidePtr(SideUser), nil, AttentionWaiting},
		{"user spoke last, action not due", sidePtr(SideUser), &future, AttentionWaiting},
		{"user spoke last, due exactly now", sidePtr(SideUser), &now, AttentionWaiting},
		{"no messages, overdue action", nil, &past, AttentionNeeded},
		{"no messages", nil, nil, AttentionNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyAttention(tt.side, tt.due, now); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsOutOfSync(t *testing.T) {
	last := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	conv := Conversation{ID: uuid.New(), LastMessageAt: &last}

	newer := ExternalSignal{ID: uuid.New(), EmailReceivedAt: last.Add(time.Minute)}
	older := ExternalSignal{ID: uuid.New(), EmailReceivedAt: last.Add(-time.Hour)}
	same := ExternalSignal{ID: uuid.New(), EmailReceivedAt: last}

	if IsOutOfSync(conv, nil) {
		t.Fatal("expected no signals to be in sync")
	}
	if !IsOutOfSync(conv, []ExternalSignal{older, newer}) {
		t.Fatal("expected newer signal to flag out of sync")
	}
	if IsOutOfSync(conv, []ExternalSignal{older}) {
		t.Fatal("expected older signal to keep conversation in sync")
	}
	if IsOutOfSync(conv, []ExternalSignal{same}) {
		t.Fatal("expected signal at the same instant to keep conversation in sync")
	}
}

func TestIsOutOfSyncEmptyThread(t *testing.T) {
	conv := Conversation{ID: uuid.New()}
	if IsOutOfSync(conv, nil) {
		t.Fatal("expected empty thread without signals to be in sync")
	}
	signal := ExternalSignal{ID: uuid.New(), EmailReceivedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	if !IsOutOfSync(conv, []ExternalSignal{signal}) {
		t.Fatal("expected empty thread with a matched signal to be out of sync")
	}
}

func TestIsOutOfSyncOlderSignalNeverFlips(t *testing.T) {
	last := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	conv := Conversation{ID: uuid.New(), LastMessageAt: &last}

	signals := []ExternalSignal{}
	for i := 1; i <= 5; i++ {
		signals = append(signals, ExternalSignal{ID: uuid.New(), EmailReceivedAt: last.Add(-time.Duration(i) * time.Hour)})
		if IsOutOfSync(conv, signals) {
			t.Fatalf("expected older signals to never flag out of sync (after %d)", i)
		}
	}
}

func TestSummaryForTruncatesSnippet(t *testing.T) {
	body := make([]rune, SnippetMaxLength+10)
	for i := range body {
		body[i] = 'é'
	}
	at := time.Now()
	summary := SummaryFor(SideUser, string(body), at)
	if got := len([]rune(summary.LastMessageSnippet)); got != SnippetMaxLength {
		t.Fatalf("expected %d characters, got %d", SnippetMaxLength, got)
	}
	if summary.LastMessageSide != SideUser || !summary.LastMessageAt.Equal(at) {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if TruncateSnippet("short") != "short" {
		t.Fatal("expected short body to be kept as-is")
	}
}
