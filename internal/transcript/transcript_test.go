package transcript

import (
	"testing"
)

func TestNewSeedsSystemMessage(t *testing.T) {
	tr := New("be helpful")

	if got := tr.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	msgs := tr.Messages()
	if msgs[0].Role != RoleSystem {
		t.Errorf("first role = %q, want %q", msgs[0].Role, RoleSystem)
	}
	if msgs[0].Content != "be helpful" {
		t.Errorf("first content = %q, want %q", msgs[0].Content, "be helpful")
	}
}

func TestAppendOrdering(t *testing.T) {
	tr := New("sys")
	tr.AppendHuman("hi")
	tr.AppendAssistant("hello")
	tr.AppendHuman("how are you")

	want := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleHuman, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleHuman, Content: "how are you"},
	}
	got := tr.Messages()
	if len(got) != len(want) {
		t.Fatalf("Messages() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAmendLastHuman(t *testing.T) {
	t.Run("replaces trailing human message", func(t *testing.T) {
		tr := New("sys")
		tr.AppendHuman("augmented prompt")
		tr.AmendLastHuman("what the user typed")

		msgs := tr.Messages()
		if got := msgs[1].Content; got != "what the user typed" {
			t.Errorf("amended content = %q, want %q", got, "what the user typed")
		}
	})

	t.Run("no-op when last message is not human", func(t *testing.T) {
		tr := New("sys")
		tr.AppendHuman("hi")
		tr.AppendAssistant("hello")
		tr.AmendLastHuman("ignored")

		msgs := tr.Messages()
		if got := msgs[2].Content; got != "hello" {
			t.Errorf("assistant content = %q, want untouched %q", got, "hello")
		}
		if got := msgs[1].Content; got != "hi" {
			t.Errorf("human content = %q, want untouched %q", got, "hi")
		}
	})

	t.Run("never amends the system message", func(t *testing.T) {
		tr := New("sys")
		tr.AmendLastHuman("ignored")

		if got := tr.Messages()[0].Content; got != "sys" {
			t.Errorf("system content = %q, want %q", got, "sys")
		}
	})
}

func TestMessagesReturnsCopy(t *testing.T) {
	tr := New("sys")
	tr.AppendHuman("hi")

	msgs := tr.Messages()
	msgs[1].Content = "mutated"

	if got := tr.Messages()[1].Content; got != "hi" {
		t.Errorf("transcript content = %q after caller mutation, want %q", got, "hi")
	}
}

func TestText(t *testing.T) {
	tr := New("sys")
	tr.AppendHuman("hi")
	tr.AppendAssistant("hello")

	want := "system: sys\nhuman: hi\nassistant: hello"
	if got := tr.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestAccumulatorCommit(t *testing.T) {
	tr := New("sys")
	tr.AppendHuman("hi")

	acc := tr.BeginAssistant()
	acc.Write("Hel")
	acc.Write("lo")

	// Uncommitted text must not be visible yet.
	if got := tr.Len(); got != 2 {
		t.Fatalf("Len() before commit = %d, want 2", got)
	}

	acc.Commit()
	msgs := tr.Messages()
	if got := len(msgs); got != 3 {
		t.Fatalf("Len() after commit = %d, want 3", got)
	}
	if msgs[2].Role != RoleAssistant || msgs[2].Content != "Hello" {
		t.Errorf("committed message = %+v, want assistant %q", msgs[2], "Hello")
	}
}

func TestAccumulatorCommitIdempotent(t *testing.T) {
	tr := New("sys")
	acc := tr.BeginAssistant()
	acc.Write("x")
	acc.Commit()
	acc.Commit()

	if got := tr.Len(); got != 2 {
		t.Errorf("Len() after double commit = %d, want 2", got)
	}
}

func TestAccumulatorCommitWithoutFragments(t *testing.T) {
	tr := New("sys")
	acc := tr.BeginAssistant()
	acc.Commit()

	if got := tr.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1: a turn with no output commits nothing", got)
	}
	if acc.Started() {
		t.Error("Started() = true, want false")
	}
}
