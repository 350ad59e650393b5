package chat

import (
	"errors"
	"testing"
)

func TestScopeKeyRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		scope Scope
		key   string
	}{
		{name: "direct", scope: DirectScope("user-1"), key: "direct:user-1"},
		{name: "group", scope: GroupScope("group-1"), key: "group:group-1"},
		{name: "channel", scope: ChannelScope("community-1", "channel-1"), key: "channel:community-1:channel-1"},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.scope.Key(); got != testCase.key {
				t.Fatalf("Key() = %q, want %q", got, testCase.key)
			}
			parsed, err := ParseScopeKey(testCase.key)
			if err != nil {
				t.Fatalf("ParseScopeKey(%q): %v", testCase.key, err)
			}
			if parsed != testCase.scope {
				t.Fatalf("parsed = %+v, want %+v", parsed, testCase.scope)
			}
		})
	}
}

func TestParseScopeKeyRejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "bogus", "direct:", "channel:only-community", "direct:a:b:c"} {
		if _, err := ParseScopeKey(key); !errors.Is(err, ErrInvalidScope) {
			t.Fatalf("ParseScopeKey(%q) err = %v, want ErrInvalidScope", key, err)
		}
	}
}

func TestContextKeyRoundTrip(t *testing.T) {
	main := MainContext(GroupScope("group-1"))
	thread := ThreadContext(GroupScope("group-1"), 42)

	if main.Key() != "group:group-1" {
		t.Fatalf("main key = %q", main.Key())
	}
	if thread.Key() != "group:group-1#42" {
		t.Fatalf("thread key = %q", thread.Key())
	}

	parsedMain, err := ParseContextKey(main.Key())
	if err != nil || parsedMain != main {
		t.Fatalf("parsed main = %+v (%v), want %+v", parsedMain, err, main)
	}
	parsedThread, err := ParseContextKey(thread.Key())
	if err != nil || parsedThread != thread {
		t.Fatalf("parsed thread = %+v (%v), want %+v", parsedThread, err, thread)
	}

	if _, err := ParseContextKey("group:group-1#nope"); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("bad thread root err = %v, want ErrInvalidScope", err)
	}
}

func TestThreadContextIsDistinctFromParent(t *testing.T) {
	scope := GroupScope("group-1")
	thread := ThreadContext(scope, 7)
	if thread == MainContext(scope) {
		t.Fatalf("thread context must not equal the main context")
	}
	if thread.Parent() != MainContext(scope) {
		t.Fatalf("Parent() = %+v, want the main context", thread.Parent())
	}
}

func TestUserIDsFromEventsCollectsEveryReference(t *testing.T) {
	events := []EventWrapper{
		{Index: 0, Payload: Message{
			MessageIndex: 0,
			Sender:       "user-sender",
			Reactions:    map[string][]string{"wave": {"user-reactor"}},
			Thread:       &ThreadSummary{ParticipantIDs: []string{"user-thread"}},
		}},
		{Index: 1, Payload: MemberJoined{UserID: "user-joined"}},
		{Index: 2, Payload: RoleChanged{UserIDs: []string{"user-promoted"}, ChangedBy: "user-admin"}},
		{Index: 3, Payload: ChatFrozen{FrozenBy: "user-mod"}},
		{Index: 4, Payload: Message{MessageIndex: 1, Sender: "user-sender"}},
	}

	ids := UserIDsFromEvents(events)

	want := map[string]bool{
		"user-sender": true, "user-reactor": true, "user-thread": true,
		"user-joined": true, "user-promoted": true, "user-admin": true, "user-mod": true,
	}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %d distinct users", ids, len(want))
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected id %q in %v", id, ids)
		}
	}
}

func TestLatestMessageSkipsNonMessageEvents(t *testing.T) {
	events := []EventWrapper{
		{Index: 1, Payload: Message{MessageIndex: 0}},
		{Index: 2, Payload: MemberJoined{UserID: "user-b"}},
		{Index: 3, Payload: Message{MessageIndex: 1}},
		{Index: 4, Payload: ChatFrozen{FrozenBy: "user-mod"}},
	}
	latest, found := LatestMessage(events)
	if !found || latest.Index != 3 {
		t.Fatalf("latest = %+v found = %v, want index 3", latest, found)
	}

	if _, found := LatestMessage([]EventWrapper{{Index: 9, Payload: MemberLeft{UserID: "u"}}}); found {
		t.Fatalf("non-message events must not produce a latest message")
	}
}
