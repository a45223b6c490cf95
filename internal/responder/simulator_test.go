package responder

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRespondMentionsModel(t *testing.T) {
	s := NewSimulator(time.Millisecond)

	reply, err := s.Respond(context.Background(), "hello", "openai:gpt-4o")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(reply, "openai:gpt-4o") {
		t.Errorf("reply does not mention the model: %q", reply)
	}
}

func TestRespondQuestionVariant(t *testing.T) {
	s := NewSimulator(time.Millisecond)

	question, err := s.Respond(context.Background(), "what is this?", "m")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	statement, err := s.Respond(context.Background(), "hello there", "m")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if !strings.Contains(question, "asked a question") {
		t.Errorf("question reply missing question variant: %q", question)
	}
	if strings.Contains(statement, "asked a question") {
		t.Errorf("statement reply contains question variant: %q", statement)
	}
	if question == statement {
		t.Error("question and statement replies are identical")
	}
}

func TestRespondHonorsContext(t *testing.T) {
	s := NewSimulator(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if _, err := s.Respond(ctx, "hi", "m"); err == nil {
		t.Error("Respond returned nil error with expired context")
	}
}

func TestDefaultDelayFallback(t *testing.T) {
	s := NewSimulator(0)
	if s.delay != DefaultDelay {
		t.Errorf("delay = %v, want default %v", s.delay, DefaultDelay)
	}
}
