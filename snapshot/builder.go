package snapshot

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/bitfsorg/daoregistry-go/logging"
	"github.com/bitfsorg/daoregistry-go/paymail"
	"github.com/bitfsorg/daoregistry-go/registry"
)

// AddressResolver turns a Paymail handle into a member address.
// *paymail.Resolver implements it.
type AddressResolver interface {
	ResolveAddress(handle string) (registry.Address, error)
}

// BuilderConfig selects what the snapshot scans.
type BuilderConfig struct {
	// TokenID is the fungible token whose holders qualify. Empty skips the scan.
	TokenID string

	// MinHold is the minimum token balance in whole tokens, as a decimal
	// string. Fractions such as "0.5" are allowed. Empty means no minimum.
	MinHold string

	// MaxUnresolved is the largest tolerated share of qualifying holders
	// whose identity cannot be resolved to an address. Zero disables the
	// check. A scan in which no qualifying holder resolves always fails.
	MaxUnresolved float64

	// CollectionID is the semi-fungible collection whose holders qualify
	// with no minimum. Empty skips the scan.
	CollectionID string

	PageSize  int
	MaxPages  int
	PageDelay time.Duration
}

// Builder computes the member list from a HolderSource.
type Builder struct {
	src      HolderSource
	resolver AddressResolver
	cfg      BuilderConfig
	minHold  *big.Rat
	log      *zap.Logger
}

// NewBuilder creates a Builder. resolver may be nil, in which case Paymail
// handles are skipped. A nil log discards output.
func NewBuilder(src HolderSource, resolver AddressResolver, cfg BuilderConfig, log *zap.Logger) (*Builder, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: holder source", ErrNilParam)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	minHold := new(big.Rat)
	if cfg.MinHold != "" {
		if _, ok := minHold.SetString(cfg.MinHold); !ok || minHold.Sign() < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMinHold, cfg.MinHold)
		}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Builder{src: src, resolver: resolver, cfg: cfg, minHold: minHold, log: log.Named("snapshot")}, nil
}

// Build scans token holders (balance at least MinHold whole tokens) and then
// collection holders (any balance). The first occurrence of an address wins
// and its raw balance becomes the weight. Build fails with
// ErrUnresolvedHolders when holders qualified but too few of them resolved.
func (b *Builder) Build(ctx context.Context) ([]registry.Member, error) {
	var (
		members    []registry.Member
		seen       = make(map[registry.Address]struct{})
		qualified  int
		unresolved int
	)
	add := func(h Holder, qualifies func(*big.Int) bool) {
		balance, ok := new(big.Int).SetString(h.Balance, 10)
		if !ok {
			b.log.Warn("skipping holder with invalid balance",
				zap.String("holder", h.Address), zap.String("balance", h.Balance))
			return
		}
		if !qualifies(balance) {
			return
		}
		qualified++
		addr, err := b.resolve(h.Address)
		if err != nil {
			unresolved++
			b.log.Warn("skipping unresolvable holder", zap.String("holder", h.Address), zap.Error(err))
			return
		}
		if _, dup := seen[addr]; dup {
			return
		}
		seen[addr] = struct{}{}
		members = append(members, registry.Member{Address: addr, Weight: balance})
	}

	if b.cfg.TokenID != "" {
		decimals, err := b.src.TokenDecimals(ctx, b.cfg.TokenID)
		if err != nil {
			return nil, err
		}
		threshold := minHoldThreshold(b.minHold, decimals)
		b.log.Info("scanning token holders",
			zap.String("token", b.cfg.TokenID),
			zap.String("min_hold", b.minHold.RatString()),
			zap.Int("decimals", decimals))

		err = b.scan(ctx, func(from int) ([]Holder, error) {
			return b.src.TokenAccounts(ctx, b.cfg.TokenID, from, b.cfg.PageSize)
		}, func(h Holder) {
			add(h, func(w *big.Int) bool { return new(big.Rat).SetInt(w).Cmp(threshold) >= 0 })
		})
		if err != nil {
			return nil, err
		}
	}

	if b.cfg.CollectionID != "" {
		b.log.Info("scanning collection holders", zap.String("collection", b.cfg.CollectionID))
		err := b.scan(ctx, func(from int) ([]Holder, error) {
			return b.src.CollectionAccounts(ctx, b.cfg.CollectionID, from, b.cfg.PageSize)
		}, func(h Holder) {
			add(h, func(*big.Int) bool { return true })
		})
		if err != nil {
			return nil, err
		}
	}

	if err := b.checkResolved(qualified, unresolved); err != nil {
		return nil, err
	}
	b.log.Info("snapshot computed",
		zap.Int("members", len(members)),
		zap.Int("qualified", qualified),
		zap.Int("unresolved", unresolved))
	return members, nil
}

func (b *Builder) checkResolved(qualified, unresolved int) error {
	if qualified == 0 || unresolved == 0 {
		return nil
	}
	if unresolved == qualified {
		return fmt.Errorf("%w: none of %d qualifying holders resolved to an address",
			ErrUnresolvedHolders, qualified)
	}
	if b.cfg.MaxUnresolved > 0 && float64(unresolved) > b.cfg.MaxUnresolved*float64(qualified) {
		return fmt.Errorf("%w: %d of %d qualifying holders unresolved (limit %.0f%%)",
			ErrUnresolvedHolders, unresolved, qualified, b.cfg.MaxUnresolved*100)
	}
	return nil
}

// scan pages through a listing until an empty page or MaxPages.
func (b *Builder) scan(ctx context.Context, page func(from int) ([]Holder, error), each func(Holder)) error {
	for p := 0; p < b.cfg.MaxPages; p++ {
		holders, err := page(p * b.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(holders) == 0 {
			return nil
		}
		for _, h := range holders {
			each(h)
		}
		b.log.Debug("page scanned", zap.Int("page", p+1), zap.Int("holders", len(holders)))
		if err := sleep(ctx, b.cfg.PageDelay); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) resolve(id string) (registry.Address, error) {
	if paymail.IsHandle(id) {
		if b.resolver == nil {
			return registry.Address{}, fmt.Errorf("no paymail resolver for %s", id)
		}
		return b.resolver.ResolveAddress(id)
	}
	return registry.ParseAddress(id)
}

// minHoldThreshold returns minHold * 10^decimals, the minimum in raw units.
func minHoldThreshold(minHold *big.Rat, decimals int) *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).Mul(minHold, new(big.Rat).SetInt(scale))
}

// Chunk splits members into consecutive batches of at most size entries.
func Chunk(members []registry.Member, size int) ([][]registry.Member, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	var out [][]registry.Member
	for start := 0; start < len(members); start += size {
		end := start + size
		if end > len(members) {
			end = len(members)
		}
		out = append(out, members[start:end])
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
