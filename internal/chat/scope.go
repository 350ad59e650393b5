package chat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ScopeKind enumerates the kinds of independent event logs.
type ScopeKind string

const (
	// ScopeKindDirect addresses a one-to-one chat with a peer user.
	ScopeKindDirect ScopeKind = "direct"
	// ScopeKindGroup addresses a standalone group chat.
	ScopeKindGroup ScopeKind = "group"
	// ScopeKindChannel addresses a channel inside a community.
	ScopeKindChannel ScopeKind = "channel"
)

var (
	// ErrInvalidScope indicates a scope with missing or inconsistent identifiers.
	ErrInvalidScope = errors.New("chat: invalid scope")
)

// Scope identifies one independent, append-only event log. Scopes are plain
// value types and compare structurally.
type Scope struct {
	Kind        ScopeKind
	UserID      string
	GroupID     string
	CommunityID string
	ChannelID   string
}

// DirectScope returns the scope for a direct chat with the given peer.
func DirectScope(peerUserID string) Scope {
	return Scope{Kind: ScopeKindDirect, UserID: peerUserID}
}

// GroupScope returns the scope for a group chat.
func GroupScope(groupID string) Scope {
	return Scope{Kind: ScopeKindGroup, GroupID: groupID}
}

// ChannelScope returns the scope for a community channel.
func ChannelScope(communityID, channelID string) Scope {
	return Scope{Kind: ScopeKindChannel, CommunityID: communityID, ChannelID: channelID}
}

// Validate reports whether the scope carries the identifiers its kind requires.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeKindDirect:
		if strings.TrimSpace(s.UserID) == "" {
			return fmt.Errorf("%w: direct scope requires a peer user id", ErrInvalidScope)
		}
	case ScopeKindGroup:
		if strings.TrimSpace(s.GroupID) == "" {
			return fmt.Errorf("%w: group scope requires a group id", ErrInvalidScope)
		}
	case ScopeKindChannel:
		if strings.TrimSpace(s.CommunityID) == "" || strings.TrimSpace(s.ChannelID) == "" {
			return fmt.Errorf("%w: channel scope requires community and channel ids", ErrInvalidScope)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	return nil
}

// Key returns a stable string form used for storage keys and map lookups.
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeKindDirect:
		return "direct:" + s.UserID
	case ScopeKindGroup:
		return "group:" + s.GroupID
	case ScopeKindChannel:
		return "channel:" + s.CommunityID + ":" + s.ChannelID
	default:
		return "unknown"
	}
}

// ParseScopeKey reverses Key. It is the form contexts travel in over the HTTP
// surface and in cache rows.
func ParseScopeKey(key string) (Scope, error) {
	parts := strings.Split(key, ":")
	switch {
	case len(parts) == 2 && parts[0] == "direct":
		scope := DirectScope(parts[1])
		return scope, scope.Validate()
	case len(parts) == 2 && parts[0] == "group":
		scope := GroupScope(parts[1])
		return scope, scope.Validate()
	case len(parts) == 3 && parts[0] == "channel":
		scope := ChannelScope(parts[1], parts[2])
		return scope, scope.Validate()
	default:
		return Scope{}, fmt.Errorf("%w: unparseable key %q", ErrInvalidScope, key)
	}
}

// Context addresses one independent event-index space: a chat's main timeline,
// or a thread rooted at a message index within that chat. Contexts are value
// comparable and usable as map keys.
type Context struct {
	Scope      Scope
	ThreadRoot MessageIndex
	Threaded   bool
}

// MainContext returns the context for a chat's main timeline.
func MainContext(scope Scope) Context {
	return Context{Scope: scope}
}

// ThreadContext returns the context for the thread rooted at the given message
// index. Threads have their own event-index sequence distinct from the parent.
func ThreadContext(scope Scope, root MessageIndex) Context {
	return Context{Scope: scope, ThreadRoot: root, Threaded: true}
}

// Key returns a stable string form of the context.
func (c Context) Key() string {
	if c.Threaded {
		return fmt.Sprintf("%s#%d", c.Scope.Key(), c.ThreadRoot)
	}
	return c.Scope.Key()
}

// Parent returns the main-timeline context for a threaded context, and the
// context itself otherwise.
func (c Context) Parent() Context {
	return MainContext(c.Scope)
}

// ParseContextKey reverses Context.Key, accepting both plain scope keys and
// keys with a "#<thread root>" suffix.
func ParseContextKey(key string) (Context, error) {
	scopeKey, rootPart, threaded := strings.Cut(key, "#")
	scope, err := ParseScopeKey(scopeKey)
	if err != nil {
		return Context{}, err
	}
	if !threaded {
		return MainContext(scope), nil
	}
	root, err := strconv.ParseInt(rootPart, 10, 64)
	if err != nil || root < 0 {
		return Context{}, fmt.Errorf("%w: bad thread root in key %q", ErrInvalidScope, key)
	}
	return ThreadContext(scope, MessageIndex(root)), nil
}
