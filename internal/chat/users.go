package chat

// UserIDsFromEvents collects every user id referenced by the given events:
// senders, membership changes, role-change actors and targets, and thread
// participants. The result is deduplicated but unordered.
func UserIDsFromEvents(events []EventWrapper) []string {
	seen := make(map[string]struct{})
	add := func(id string) {
		if id != "" {
			seen[id] = struct{}{}
		}
	}

	for _, event := range events {
		switch payload := event.Payload.(type) {
		case Message:
			add(payload.Sender)
			for _, userIDs := range payload.Reactions {
				for _, id := range userIDs {
					add(id)
				}
			}
			if payload.Thread != nil {
				for _, id := range payload.Thread.ParticipantIDs {
					add(id)
				}
			}
		case MemberJoined:
			add(payload.UserID)
		case MemberLeft:
			add(payload.UserID)
		case RoleChanged:
			add(payload.ChangedBy)
			for _, id := range payload.UserIDs {
				add(id)
			}
		case MessagePinned:
			add(payload.PinnedBy)
		case ChatFrozen:
			add(payload.FrozenBy)
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}
