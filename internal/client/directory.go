package client

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/omochice/roomchat/pkg/protocol"
)

// Directory holds the known users and rooms. The current user is always
// listed and always online while joined. It is not safe for concurrent use.
type Directory struct {
	users   []protocol.User
	rooms   []protocol.Room
	current *protocol.User
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// SetCurrentUser records the identity this client joined as, or clears it
// when u is nil.
func (d *Directory) SetCurrentUser(u *protocol.User) {
	if u == nil {
		d.current = nil
		return
	}
	cu := *u
	cu.Username = strings.TrimSpace(cu.Username)
	cu.IsOnline = true
	d.current = &cu
	d.AddUser(cu)
}

// CurrentUser returns the joined identity.
func (d *Directory) CurrentUser() (protocol.User, bool) {
	if d.current == nil {
		return protocol.User{}, false
	}
	return *d.current, true
}

// SetUsers replaces the roster. Entries without an id are dropped and the
// last entry wins for a repeated id.
func (d *Directory) SetUsers(users []protocol.User) {
	byID := make(map[string]int, len(users))
	out := make([]protocol.User, 0, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		u.Username = strings.TrimSpace(u.Username)
		if i, ok := byID[u.ID]; ok {
			out[i] = u
			continue
		}
		byID[u.ID] = len(out)
		out = append(out, u)
	}
	d.users = out
	d.protectCurrent()
	d.sortUsers()
}

// AddUser upserts u, merging into an existing entry with the same id.
func (d *Directory) AddUser(u protocol.User) {
	if u.ID == "" {
		return
	}
	u.Username = strings.TrimSpace(u.Username)
	if i := d.indexOf(u.ID); i >= 0 {
		merged := d.users[i]
		if u.Username != "" {
			merged.Username = u.Username
		}
		merged.IsOnline = u.IsOnline
		if !u.LastSeen.IsZero() {
			merged.LastSeen = u.LastSeen
		}
		d.users[i] = merged
	} else {
		d.users = append(d.users, u)
	}
	d.protectCurrent()
	d.sortUsers()
}

// UpdateUserStatus sets the presence of a known user.
func (d *Directory) UpdateUserStatus(id string, online bool, lastSeen time.Time) {
	i := d.indexOf(id)
	if i < 0 {
		return
	}
	d.users[i].IsOnline = online
	if !lastSeen.IsZero() {
		d.users[i].LastSeen = lastSeen
	}
	d.protectCurrent()
}

// MarkOffline records that a user left.
func (d *Directory) MarkOffline(id string, at time.Time) {
	d.UpdateUserStatus(id, false, at)
}

// MarkOthersOffline marks every user but the current one offline. Used when
// the transport drops and remote presence is unknown.
func (d *Directory) MarkOthersOffline(at time.Time) {
	for i := range d.users {
		if d.isCurrent(d.users[i].ID) {
			continue
		}
		if d.users[i].IsOnline {
			d.users[i].IsOnline = false
			d.users[i].LastSeen = at
		}
	}
}

// MarkAllOffline marks everyone offline, the current user included.
func (d *Directory) MarkAllOffline(at time.Time) {
	for i := range d.users {
		if d.users[i].IsOnline {
			d.users[i].IsOnline = false
			d.users[i].LastSeen = at
		}
	}
	if d.current != nil {
		d.current.IsOnline = false
		d.current.LastSeen = at
	}
}

// Users returns the roster sorted by username.
func (d *Directory) Users() []protocol.User {
	return slices.Clone(d.users)
}

// OnlineUsers returns the online part of the roster.
func (d *Directory) OnlineUsers() []protocol.User {
	return filterUsers(d.users, true)
}

// OfflineUsers returns the offline part of the roster.
func (d *Directory) OfflineUsers() []protocol.User {
	return filterUsers(d.users, false)
}

// SetRooms replaces the room list; the default room sorts first.
func (d *Directory) SetRooms(rooms []protocol.Room) {
	d.rooms = slices.Clone(rooms)
	slices.SortStableFunc(d.rooms, func(a, b protocol.Room) int {
		if a.ID == protocol.DefaultRoomID || b.ID == protocol.DefaultRoomID {
			switch {
			case a.ID == b.ID:
				return 0
			case a.ID == protocol.DefaultRoomID:
				return -1
			default:
				return 1
			}
		}
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

// Rooms returns the known rooms.
func (d *Directory) Rooms() []protocol.Room {
	return slices.Clone(d.rooms)
}

// Room looks a room up by id.
func (d *Directory) Room(id string) (protocol.Room, bool) {
	i := slices.IndexFunc(d.rooms, func(r protocol.Room) bool { return r.ID == id })
	if i < 0 {
		return protocol.Room{}, false
	}
	return d.rooms[i], true
}

func (d *Directory) isCurrent(id string) bool {
	return d.current != nil && d.current.ID == id
}

func (d *Directory) indexOf(id string) int {
	return slices.IndexFunc(d.users, func(u protocol.User) bool { return u.ID == id })
}

// protectCurrent keeps the joined identity listed, and online unless the
// client disconnected on purpose.
func (d *Directory) protectCurrent() {
	if d.current == nil {
		return
	}
	if i := d.indexOf(d.current.ID); i >= 0 {
		if d.current.IsOnline {
			d.users[i].IsOnline = true
		}
		if d.users[i].Username == "" {
			d.users[i].Username = d.current.Username
		}
		return
	}
	d.users = append(d.users, *d.current)
}

func (d *Directory) sortUsers() {
	slices.SortStableFunc(d.users, func(a, b protocol.User) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username)),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

func filterUsers(users []protocol.User, online bool) []protocol.User {
	out := make([]protocol.User, 0, len(users))
	for _, u := range users {
		if u.IsOnline == online {
			out = append(out, u)
		}
	}
	return out
}
