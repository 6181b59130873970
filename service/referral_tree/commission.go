package referral_tree

import (
	"github.com/ericlagergren/decimal"
	"github.com/pkg/errors"

	"gitlab.com/paramountdax-exchange/referral_api/model"
)

// CommissionPolicy maps a tree level to the commission percent of that level
type CommissionPolicy interface {
	Percent(level int) (*decimal.Big, error)
	MaxLevel() int
}

// TieredCommission keeps one percent per level, level 1 first
type TieredCommission struct {
	tiers []*decimal.Big
}

// NewTieredCommission godoc
func NewTieredCommission(tiers ...*decimal.Big) *TieredCommission {
	copied := make([]*decimal.Big, 0, len(tiers))
	for _, tier := range tiers {
		copied = append(copied, new(decimal.Big).Copy(tier))
	}
	return &TieredCommission{tiers: copied}
}

// DefaultCommission is 10% / 5% / 2.5%
func DefaultCommission() *TieredCommission {
	return NewTieredCommission(
		new(decimal.Big).SetFloat64(10),
		new(decimal.Big).SetFloat64(5),
		new(decimal.Big).SetFloat64(2.5),
	)
}

// Percent returns a copy of the level's percent
func (c *TieredCommission) Percent(level int) (*decimal.Big, error) {
	if level < 1 || level > len(c.tiers) {
		return nil, errors.Wrapf(model.ErrReferralDepthExceeded, "no commission tier for level %d", level)
	}
	return new(decimal.Big).Copy(c.tiers[level-1]), nil
}

func (c *TieredCommission) MaxLevel() int {
	return len(c.tiers)
}
