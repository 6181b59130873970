package referral_trees

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"

	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/monitor"
)

// HashStore is the subset of redis commands used by the cache
type HashStore interface {
	Get(key string) (string, error)
	Incr(key string) (int64, error)
	HGet(key, field string) (string, error)
	HSet(key, field string, value []byte, ttl time.Duration) error
}

// Cache keeps serialized tree structures per root, one hash field per level limit.
// Every root has a generation counter and snapshots are stored under the generation
// they were built in, so a snapshot built before an invalidation is never served after it.
type Cache struct {
	store HashStore
	ttl   time.Duration
}

// New godoc
func New(store HashStore, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

func generationKey(rootUserID uint64) string {
	return fmt.Sprintf("referral_tree_generation:%d", rootUserID)
}

func key(rootUserID, generation uint64) string {
	return fmt.Sprintf("referral_tree:%d:%d", rootUserID, generation)
}

// Generation returns the current generation of the root. ok is false when redis could not answer.
func (c *Cache) Generation(rootUserID uint64) (uint64, bool) {
	raw, err := c.store.Get(generationKey(rootUserID))
	if err != nil {
		log.Warn().Err(err).Str("section", "referral_trees_cache").Uint64("root_user_id", rootUserID).Msg("Unable to read tree generation")
		return 0, false
	}
	if raw == "" {
		return 0, true
	}
	generation, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		log.Warn().Err(err).Str("section", "referral_trees_cache").Uint64("root_user_id", rootUserID).Msg("Invalid tree generation")
		return 0, false
	}
	return generation, true
}

// Get returns the tree cached for the current generation of the root. Errors count as a miss.
func (c *Cache) Get(rootUserID uint64, maxLevel int) (*model.ReferralTreeNode, bool) {
	generation, ok := c.Generation(rootUserID)
	if !ok {
		monitor.ReferralTreeCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	raw, err := c.store.HGet(key(rootUserID, generation), strconv.Itoa(maxLevel))
	if err != nil {
		log.Warn().Err(err).Str("section", "referral_trees_cache").Uint64("root_user_id", rootUserID).Msg("Unable to read tree snapshot")
	}
	if err != nil || raw == "" {
		monitor.ReferralTreeCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	node := &model.ReferralTreeNode{}
	if err := json.Unmarshal([]byte(raw), node); err != nil {
		log.Warn().Err(err).Str("section", "referral_trees_cache").Uint64("root_user_id", rootUserID).Msg("Unable to decode tree snapshot")
		monitor.ReferralTreeCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	monitor.ReferralTreeCache.WithLabelValues("hit").Inc()
	return node, true
}

// Set stores the tree of a root under the generation read before the tree was built
func (c *Cache) Set(rootUserID uint64, maxLevel int, generation uint64, node *model.ReferralTreeNode) {
	payload, err := json.Marshal(node)
	if err != nil {
		log.Error().Err(err).Str("section", "referral_trees_cache").Uint64("root_user_id", rootUserID).Msg("Unable to encode tree snapshot")
		return
	}
	if err := c.store.HSet(key(rootUserID, generation), strconv.Itoa(maxLevel), payload, c.ttl); err != nil {
		log.Warn().Err(err).Str("section", "referral_trees_cache").Uint64("root_user_id", rootUserID).Msg("Unable to store tree snapshot")
	}
}

// Invalidate moves the given roots to a new generation. Older snapshots expire with their ttl.
func (c *Cache) Invalidate(rootUserIDs ...uint64) {
	for _, root := range rootUserIDs {
		if _, err := c.store.Incr(generationKey(root)); err != nil {
			log.Error().Err(err).Str("section", "referral_trees_cache").Uint64("root_user_id", root).Msg("Unable to invalidate tree snapshots")
		}
	}
}
