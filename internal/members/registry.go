package members

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/models"
	"github.com/nikitkaralius/curatorbot/internal/storage"
)

const (
	groupsDoc   = "groups"
	curatorsDoc = "curators"
	membersDoc  = "members"
)

var (
	ErrUnknownGroup = errors.New("group not found")
	ErrNotMember    = errors.New("member not registered")
)

// DefaultGroups seeds the groups document on first start.
var DefaultGroups = map[string]models.Group{
	"ж1": {Key: "ж1", Name: "Ж1", Faculty: "ж", Description: "Women's group 1"},
	"ж2": {Key: "ж2", Name: "Ж2", Faculty: "ж", Description: "Women's group 2"},
	"ж3": {Key: "ж3", Name: "Ж3", Faculty: "ж", Description: "Women's group 3"},
	"р1": {Key: "р1", Name: "Р1", Faculty: "р", Description: "Russian group 1"},
	"р2": {Key: "р2", Name: "Р2", Faculty: "р", Description: "Russian group 2"},
}

// Registry owns the static group and curator tables and group membership.
// The admin is a curator of every group.
type Registry struct {
	docs    storage.Documents
	adminID int64
	now     func() time.Time
}

func NewRegistry(docs storage.Documents, adminID int64) *Registry {
	return &Registry{docs: docs, adminID: adminID, now: time.Now}
}

// Seed writes the default groups and an empty curator table if they are
// missing.
func (r *Registry) Seed(ctx context.Context) error {
	var groups map[string]models.Group
	err := r.docs.Update(ctx, groupsDoc, &groups, func() error {
		if groups != nil {
			return storage.ErrUnchanged
		}
		logging.Log.Infof("MEMBERS: seeding %d default groups", len(DefaultGroups))
		groups = DefaultGroups
		return nil
	})
	if err != nil {
		return err
	}

	var curators map[string][]int64
	return r.docs.Update(ctx, curatorsDoc, &curators, func() error {
		if curators != nil {
			return storage.ErrUnchanged
		}
		curators = map[string][]int64{}
		for key := range DefaultGroups {
			curators[key] = []int64{}
		}
		return nil
	})
}

func (r *Registry) loadGroups(ctx context.Context) (map[string]models.Group, error) {
	groups := map[string]models.Group{}
	if err := storage.LoadOrInit(ctx, r.docs, groupsDoc, &groups); err != nil {
		return nil, errors.Wrap(err, "load groups")
	}
	return groups, nil
}

func (r *Registry) loadCurators(ctx context.Context) (map[string][]int64, error) {
	curators := map[string][]int64{}
	if err := storage.LoadOrInit(ctx, r.docs, curatorsDoc, &curators); err != nil {
		return nil, errors.Wrap(err, "load curators")
	}
	return curators, nil
}

func (r *Registry) loadMembers(ctx context.Context) (map[string][]models.Member, error) {
	members := map[string][]models.Member{}
	if err := storage.LoadOrInit(ctx, r.docs, membersDoc, &members); err != nil {
		return nil, errors.Wrap(err, "load members")
	}
	return members, nil
}

// updateMembers runs fn on the membership document inside one storage Update.
func (r *Registry) updateMembers(ctx context.Context, fn func(members map[string][]models.Member) error) error {
	members := map[string][]models.Member{}
	return r.docs.Update(ctx, membersDoc, &members, func() error {
		if members == nil {
			members = map[string][]models.Member{}
		}
		return fn(members)
	})
}

func (r *Registry) updateCurators(ctx context.Context, fn func(curators map[string][]int64) error) error {
	curators := map[string][]int64{}
	return r.docs.Update(ctx, curatorsDoc, &curators, func() error {
		if curators == nil {
			curators = map[string][]int64{}
		}
		return fn(curators)
	})
}

func (r *Registry) Groups(ctx context.Context) ([]models.Group, error) {
	groups, err := r.loadGroups(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]models.Group, 0, len(groups))
	for key, g := range groups {
		g.Key = key
		res = append(res, g)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	return res, nil
}

func (r *Registry) Group(ctx context.Context, key string) (models.Group, error) {
	groups, err := r.loadGroups(ctx)
	if err != nil {
		return models.Group{}, err
	}
	g, ok := groups[key]
	if !ok {
		return models.Group{}, errors.Wrapf(ErrUnknownGroup, "group %q", key)
	}
	g.Key = key
	return g, nil
}

// GroupName returns the display name, or the key itself for unknown groups.
func (r *Registry) GroupName(ctx context.Context, key string) string {
	g, err := r.Group(ctx, key)
	if err != nil || g.Name == "" {
		return key
	}
	return g.Name
}

// Members returns the current roster of a group in join order.
func (r *Registry) Members(ctx context.Context, group string) ([]models.Member, error) {
	members, err := r.loadMembers(ctx)
	if err != nil {
		return nil, err
	}
	return append([]models.Member(nil), members[group]...), nil
}

func (r *Registry) Member(ctx context.Context, id int64) (models.Member, bool, error) {
	members, err := r.loadMembers(ctx)
	if err != nil {
		return models.Member{}, false, err
	}
	for _, roster := range members {
		for _, m := range roster {
			if m.ID == id {
				return m, true, nil
			}
		}
	}
	return models.Member{}, false, nil
}

// GroupOf returns the member's current group, or "" when unregistered.
func (r *Registry) GroupOf(ctx context.Context, id int64) (string, error) {
	m, ok, err := r.Member(ctx, id)
	if err != nil || !ok {
		return "", err
	}
	return m.Group, nil
}

// Join registers m in group, moving it out of any previous group. Existing
// members keep their join time so roster order is stable.
func (r *Registry) Join(ctx context.Context, group string, m models.Member) (models.Member, error) {
	if _, err := r.Group(ctx, group); err != nil {
		return models.Member{}, err
	}

	m.Group = group
	m.JoinedAt = r.now().UTC()
	moved := false
	err := r.updateMembers(ctx, func(members map[string][]models.Member) error {
		for key, roster := range members {
			for i, existing := range roster {
				if existing.ID != m.ID {
					continue
				}
				if key == group {
					if m.FullName == "" {
						m.FullName = existing.FullName
					}
					m.JoinedAt = existing.JoinedAt
					m.LastScreen = existing.LastScreen
					roster[i] = m
					return nil
				}
				members[key] = append(roster[:i:i], roster[i+1:]...)
				break
			}
		}
		members[group] = append(members[group], m)
		moved = true
		return nil
	})
	if err != nil {
		return models.Member{}, err
	}
	if moved {
		logging.Log.Infof("MEMBERS: %d joined %s", m.ID, group)
	}
	return m, nil
}

// Leave removes the member from whatever group it belongs to.
func (r *Registry) Leave(ctx context.Context, id int64) (bool, error) {
	left := ""
	err := r.updateMembers(ctx, func(members map[string][]models.Member) error {
		for key, roster := range members {
			for i, m := range roster {
				if m.ID == id {
					members[key] = append(roster[:i:i], roster[i+1:]...)
					left = key
					return nil
				}
			}
		}
		return storage.ErrUnchanged
	})
	if err != nil || left == "" {
		return false, err
	}
	logging.Log.Infof("MEMBERS: %d left %s", id, left)
	return true, nil
}

// Remove takes a member out of group. It reports false when the member is
// not in that group.
func (r *Registry) Remove(ctx context.Context, group string, id int64) (bool, error) {
	removed := false
	err := r.updateMembers(ctx, func(members map[string][]models.Member) error {
		roster := members[group]
		for i, m := range roster {
			if m.ID == id {
				members[group] = append(roster[:i:i], roster[i+1:]...)
				removed = true
				return nil
			}
		}
		return storage.ErrUnchanged
	})
	if err != nil {
		return false, err
	}
	if removed {
		logging.Log.Infof("MEMBERS: %d removed from %s", id, group)
	}
	return removed, nil
}

// Rename updates the full name of a member of group.
func (r *Registry) Rename(ctx context.Context, group string, id int64, fullName string) error {
	return r.updateMembers(ctx, func(members map[string][]models.Member) error {
		roster := members[group]
		for i := range roster {
			if roster[i].ID == id {
				roster[i].FullName = fullName
				return nil
			}
		}
		return errors.Wrapf(ErrNotMember, "member %d of %s", id, group)
	})
}

// SetLastScreen remembers the screen /resume reopens. Unregistered users
// are ignored.
func (r *Registry) SetLastScreen(ctx context.Context, id int64, screen string) error {
	return r.updateMembers(ctx, func(members map[string][]models.Member) error {
		for _, roster := range members {
			for i := range roster {
				if roster[i].ID != id {
					continue
				}
				if roster[i].LastScreen == screen {
					return storage.ErrUnchanged
				}
				roster[i].LastScreen = screen
				return nil
			}
		}
		return storage.ErrUnchanged
	})
}

func (r *Registry) IsAdmin(id int64) bool { return r.adminID != 0 && id == r.adminID }

func (r *Registry) IsCurator(ctx context.Context, id int64, group string) (bool, error) {
	if r.IsAdmin(id) {
		return true, nil
	}
	curators, err := r.loadCurators(ctx)
	if err != nil {
		return false, err
	}
	for _, cid := range curators[group] {
		if cid == id {
			return true, nil
		}
	}
	return false, nil
}

// CuratorGroups lists the groups id curates through the curator table. The
// admin override is not expanded here.
func (r *Registry) CuratorGroups(ctx context.Context, id int64) ([]string, error) {
	curators, err := r.loadCurators(ctx)
	if err != nil {
		return nil, err
	}
	var res []string
	for group, ids := range curators {
		for _, cid := range ids {
			if cid == id {
				res = append(res, group)
				break
			}
		}
	}
	sort.Strings(res)
	return res, nil
}

// Curators returns the curator ids of a group from the curator table.
func (r *Registry) Curators(ctx context.Context, group string) ([]int64, error) {
	curators, err := r.loadCurators(ctx)
	if err != nil {
		return nil, err
	}
	return append([]int64(nil), curators[group]...), nil
}

func (r *Registry) AddCurator(ctx context.Context, group string, id int64) error {
	if _, err := r.Group(ctx, group); err != nil {
		return err
	}
	return r.updateCurators(ctx, func(curators map[string][]int64) error {
		for _, cid := range curators[group] {
			if cid == id {
				return storage.ErrUnchanged
			}
		}
		curators[group] = append(curators[group], id)
		return nil
	})
}

func (r *Registry) RemoveCurator(ctx context.Context, group string, id int64) (bool, error) {
	removed := false
	err := r.updateCurators(ctx, func(curators map[string][]int64) error {
		ids := curators[group]
		for i, cid := range ids {
			if cid == id {
				curators[group] = append(ids[:i:i], ids[i+1:]...)
				removed = true
				return nil
			}
		}
		return storage.ErrUnchanged
	})
	return removed, err
}
