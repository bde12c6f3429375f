package snapshot

import (
	"context"
	"fmt"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"go.uber.org/zap"

	"github.com/bitfsorg/daoregistry-go/auth"
	"github.com/bitfsorg/daoregistry-go/logging"
	"github.com/bitfsorg/daoregistry-go/registry"
)

// BatchSender delivers a signed batch to the registry host. *rpc.Client
// implements it.
type BatchSender interface {
	RegisterMembersSnapshotBatch(ctx context.Context, batch *auth.SignedBatch) error
}

// Submitter signs and sends snapshot batches in order.
type Submitter struct {
	sender BatchSender
	key    *ec.PrivateKey
	delay  time.Duration
	log    *zap.Logger
}

// NewSubmitter creates a Submitter that waits delay between batches.
func NewSubmitter(sender BatchSender, key *ec.PrivateKey, delay time.Duration, log *zap.Logger) (*Submitter, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: sender", ErrNilParam)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: signing key", ErrNilParam)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Submitter{sender: sender, key: key, delay: delay, log: log.Named("submit")}, nil
}

// Submit sends batches with nonces baseNonce, baseNonce+1, ... and stops at
// the first failure. It returns the number of batches accepted.
func (s *Submitter) Submit(ctx context.Context, batches [][]registry.Member, baseNonce uint64) (int, error) {
	for i, entries := range batches {
		nonce := baseNonce + uint64(i)
		batch, err := auth.SignBatch(s.key, nonce, entries)
		if err != nil {
			return i, fmt.Errorf("snapshot: sign batch %d: %w", i+1, err)
		}

		s.log.Info("registering members batch",
			zap.Int("batch", i+1),
			zap.Int("of", len(batches)),
			zap.Int("entries", len(entries)),
			zap.Uint64("nonce", nonce))

		if err := s.sender.RegisterMembersSnapshotBatch(ctx, batch); err != nil {
			return i, fmt.Errorf("snapshot: submit batch %d: %w", i+1, err)
		}

		if i < len(batches)-1 {
			if err := sleep(ctx, s.delay); err != nil {
				return i + 1, err
			}
		}
	}
	return len(batches), nil
}
