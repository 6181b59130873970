package user_referrals

import (
	"sort"
	"sync"

	"gitlab.com/paramountdax-exchange/referral_api/model"
)

type upline struct {
	L1 uint64
	L2 uint64
	L3 uint64
}

// branch holds the uplines and downlines of every user below one root
type branch struct {
	members       []uint64
	userReferrals map[uint64]*upline
	userReferred  map[uint64]*model.ReferralTree
}

type Cache struct {
	lock        *sync.RWMutex
	branches    map[uint64]*branch
	rootOf      map[uint64]uint64
	generations map[uint64]uint64
}

var cache *Cache

func init() {
	cache = &Cache{
		lock:        &sync.RWMutex{},
		branches:    make(map[uint64]*branch),
		rootOf:      make(map[uint64]uint64),
		generations: make(map[uint64]uint64),
	}
}

// Refresh holds the generation of every root it covers as it was when the reload started
type Refresh struct {
	generations map[uint64]uint64
}

// BeginRefresh starts a reload of the given roots. Any reload of the same roots started
// earlier can no longer write them.
func BeginRefresh(roots ...uint64) Refresh {
	cache.lock.Lock()
	defer cache.lock.Unlock()
	refresh := Refresh{generations: make(map[uint64]uint64, len(roots))}
	for _, root := range roots {
		cache.generations[root]++
		refresh.generations[root] = cache.generations[root]
	}
	return refresh
}

// BeginFullRefresh starts a reload of the whole cache. Roots reloaded by BeginRefresh
// after this call keep their newer data.
func BeginFullRefresh() Refresh {
	cache.lock.RLock()
	defer cache.lock.RUnlock()
	refresh := Refresh{generations: make(map[uint64]uint64, len(cache.generations))}
	for root, generation := range cache.generations {
		refresh.generations[root] = generation
	}
	return refresh
}

func (c *Cache) stale(refresh Refresh, root uint64) bool {
	return c.generations[root] != refresh.generations[root]
}

// GetUserReferrals returns the upline of the user: L1 is the parent, L2 the grandparent
func GetUserReferrals(userId uint64) *model.ReferralTree {
	tree := new(model.ReferralTree)
	cache.lock.RLock()
	defer cache.lock.RUnlock()
	b, ok := cache.branches[cache.rootOf[userId]]
	if !ok {
		return tree
	}
	referralTree, ok := b.userReferrals[userId]
	if ok {
		if referralTree.L1 != 0 {
			tree.L1 = append(tree.L1, referralTree.L1)
		}
		if referralTree.L2 != 0 {
			tree.L2 = append(tree.L2, referralTree.L2)
		}
		if referralTree.L3 != 0 {
			tree.L3 = append(tree.L3, referralTree.L3)
		}
	}
	return tree
}

// GetUserReferred returns the downline of the user grouped by relative level
func GetUserReferred(userId uint64) *model.ReferralTree {
	tree := new(model.ReferralTree)
	cache.lock.RLock()
	defer cache.lock.RUnlock()
	b, ok := cache.branches[cache.rootOf[userId]]
	if !ok {
		return tree
	}
	if referred, ok := b.userReferred[userId]; ok {
		tree.L1 = append(tree.L1, referred.L1...)
		tree.L2 = append(tree.L2, referred.L2...)
		tree.L3 = append(tree.L3, referred.L3...)
	}
	return tree
}

// SetUserReferralData replaces the whole cache with the given positioned edges,
// except for roots reloaded since the refresh started
func SetUserReferralData(refresh Refresh, edges []*model.ReferralEdge) {
	grouped := groupByRoot(edges)
	cache.lock.Lock()
	defer cache.lock.Unlock()

	kept := make(map[uint64]*branch)
	for root, b := range cache.branches {
		if cache.stale(refresh, root) {
			kept[root] = b
		}
	}
	cache.branches = make(map[uint64]*branch, len(grouped)+len(kept))
	cache.rootOf = make(map[uint64]uint64)
	for root, branchEdges := range grouped {
		if cache.stale(refresh, root) {
			continue
		}
		cache.add(root, branchEdges)
	}
	for root, b := range kept {
		cache.branches[root] = b
		for _, member := range b.members {
			cache.rootOf[member] = root
		}
	}
}

// SetBranches replaces the cached branches covered by the refresh. Roots without edges are dropped.
// A root that was refreshed again in the meantime is left to the newer refresh.
func SetBranches(refresh Refresh, edges []*model.ReferralEdge) {
	grouped := groupByRoot(edges)
	cache.lock.Lock()
	defer cache.lock.Unlock()
	roots := make([]uint64, 0, len(refresh.generations))
	for root := range refresh.generations {
		if !cache.stale(refresh, root) {
			roots = append(roots, root)
		}
	}
	sortIDs(roots)
	for _, root := range roots {
		cache.remove(root)
	}
	for _, root := range roots {
		if branchEdges, ok := grouped[root]; ok {
			cache.add(root, branchEdges)
		}
	}
}

func (c *Cache) remove(root uint64) {
	b, ok := c.branches[root]
	if !ok {
		return
	}
	for _, member := range b.members {
		if c.rootOf[member] == root {
			delete(c.rootOf, member)
		}
	}
	delete(c.branches, root)
}

func (c *Cache) add(root uint64, edges []*model.ReferralEdge) {
	b := &branch{
		members:       []uint64{root},
		userReferrals: make(map[uint64]*upline, len(edges)),
		userReferred:  make(map[uint64]*model.ReferralTree, len(edges)+1),
	}
	byUser := make(map[uint64]*model.ReferralEdge, len(edges))
	for _, edge := range edges {
		byUser[edge.ReferredUserID] = edge
		b.members = append(b.members, edge.ReferredUserID)
	}

	for userID, edge := range byUser {
		up := &upline{}
		current := edge.ParentUserID
		for level := 1; level <= model.ReferralMaxLevel && current != 0; level++ {
			switch level {
			case 1:
				up.L1 = current
			case 2:
				up.L2 = current
			case 3:
				up.L3 = current
			}
			referred, ok := b.userReferred[current]
			if !ok {
				referred = new(model.ReferralTree)
				b.userReferred[current] = referred
			}
			switch level {
			case 1:
				referred.L1 = append(referred.L1, userID)
			case 2:
				referred.L2 = append(referred.L2, userID)
			case 3:
				referred.L3 = append(referred.L3, userID)
			}
			parent, ok := byUser[current]
			if !ok {
				break
			}
			current = parent.ParentUserID
		}
		b.userReferrals[userID] = up
	}

	for _, referred := range b.userReferred {
		sortIDs(referred.L1)
		sortIDs(referred.L2)
		sortIDs(referred.L3)
	}
	for _, member := range b.members {
		c.rootOf[member] = root
	}
	c.branches[root] = b
}

func groupByRoot(edges []*model.ReferralEdge) map[uint64][]*model.ReferralEdge {
	grouped := make(map[uint64][]*model.ReferralEdge)
	for _, edge := range edges {
		if edge.Positioned() {
			grouped[edge.RootUserID] = append(grouped[edge.RootUserID], edge)
		}
	}
	return grouped
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
