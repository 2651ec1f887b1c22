package p2p

import (
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/btcrelay/internal/log"
)

// Ban thresholds and durations.
const (
	BanThreshold     = 100 // Score at which a peer gets banned.
	BanDuration      = 24 * time.Hour
	banPruneInterval = 10 * time.Minute
)

// Penalty values for different offenses.
const (
	PenaltyMalformedMessage = 20  // Undecodable wire frame.
	PenaltyInvalidMessage   = 50  // Rejected by the sync coordinator.
	PenaltyHandshakeFail    = 100 // Instant ban (wrong network or genesis).
)

// disconnecter is the part of Node the ban manager needs.
type disconnecter interface {
	DisconnectPeer(id peer.ID) error
}

// BanManager tracks peer offense scores and manages bans.
type BanManager struct {
	mu     sync.RWMutex
	scores map[peer.ID]int
	bans   map[peer.ID]*BanRecord
	store  *BanStore    // nil disables persistence
	node   disconnecter // nil if disconnect-on-ban is not needed
	now    func() time.Time
	logger zerolog.Logger
}

// NewBanManager creates a new BanManager. Both store and node may be nil.
func NewBanManager(store *BanStore, node disconnecter) *BanManager {
	return &BanManager{
		scores: make(map[peer.ID]int),
		bans:   make(map[peer.ID]*BanRecord),
		store:  store,
		node:   node,
		now:    time.Now,
		logger: klog.P2P.With().Str("sub", "banmgr").Logger(),
	}
}

// LoadBans restores unexpired persisted bans into memory.
func (bm *BanManager) LoadBans() {
	if bm.store == nil {
		return
	}
	now := bm.now()
	if n, err := bm.store.PruneExpired(now); err != nil {
		bm.logger.Warn().Err(err).Msg("Prune persisted bans failed")
	} else if n > 0 {
		bm.logger.Debug().Int("pruned", n).Msg("Expired bans pruned")
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	err := bm.store.ForEach(func(rec *BanRecord) error {
		if rec.expiredAt(now) {
			return nil
		}
		id, err := peer.Decode(rec.ID)
		if err != nil {
			return nil
		}
		bm.bans[id] = rec
		return nil
	})
	if err != nil {
		bm.logger.Warn().Err(err).Msg("Load persisted bans failed")
		return
	}
	if len(bm.bans) > 0 {
		bm.logger.Info().Int("bans", len(bm.bans)).Msg("Bans restored")
	}
}

// RecordOffense adds a penalty to a peer's score. Reaching BanThreshold
// bans and disconnects the peer.
func (bm *BanManager) RecordOffense(id peer.ID, penalty int, reason string) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	now := bm.now()
	if rec, ok := bm.bans[id]; ok && !rec.expiredAt(now) {
		return
	}

	bm.scores[id] += penalty
	bm.logger.Debug().
		Str("peer", shortID(id)).
		Int("penalty", penalty).
		Int("score", bm.scores[id]).
		Str("reason", reason).
		Msg("Peer offense")
	if bm.scores[id] < BanThreshold {
		return
	}

	rec := &BanRecord{
		ID:        id.String(),
		Reason:    reason,
		Score:     bm.scores[id],
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(BanDuration).Unix(),
	}
	bm.bans[id] = rec
	delete(bm.scores, id)

	if bm.store != nil {
		if err := bm.store.Put(rec); err != nil {
			bm.logger.Warn().Err(err).Str("peer", shortID(id)).Msg("Persist ban failed")
		}
	}

	bm.logger.Warn().
		Str("peer", shortID(id)).
		Str("reason", reason).
		Int("score", rec.Score).
		Msg("Peer banned")

	if bm.node != nil {
		go bm.node.DisconnectPeer(id)
	}
}

// Score returns the peer's accumulated offense score. Banned peers score zero.
func (bm *BanManager) Score(id peer.ID) int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.scores[id]
}

// IsBanned returns true if the peer is currently banned.
func (bm *BanManager) IsBanned(id peer.ID) bool {
	bm.mu.RLock()
	rec, ok := bm.bans[id]
	bm.mu.RUnlock()
	if !ok {
		return false
	}
	if !rec.expiredAt(bm.now()) {
		return true
	}

	bm.mu.Lock()
	delete(bm.bans, id)
	bm.mu.Unlock()
	if bm.store != nil {
		bm.store.Delete(id)
	}
	return false
}

// Unban manually removes a ban and clears the score.
func (bm *BanManager) Unban(id peer.ID) {
	bm.mu.Lock()
	delete(bm.bans, id)
	delete(bm.scores, id)
	bm.mu.Unlock()

	if bm.store != nil {
		bm.store.Delete(id)
	}
}

// BanList returns the active bans, oldest first.
func (bm *BanManager) BanList() []BanRecord {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	now := bm.now()
	list := make([]BanRecord, 0, len(bm.bans))
	for _, rec := range bm.bans {
		if !rec.expiredAt(now) {
			list = append(list, *rec)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].BannedAt != list[j].BannedAt {
			return list[i].BannedAt < list[j].BannedAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// RunPruneLoop periodically drops expired bans until done is closed.
func (bm *BanManager) RunPruneLoop(done <-chan struct{}) {
	ticker := time.NewTicker(banPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			bm.pruneExpired()
		}
	}
}

func (bm *BanManager) pruneExpired() {
	now := bm.now()
	bm.mu.Lock()
	for id, rec := range bm.bans {
		if rec.expiredAt(now) {
			delete(bm.bans, id)
		}
	}
	bm.mu.Unlock()

	if bm.store != nil {
		if _, err := bm.store.PruneExpired(now); err != nil {
			bm.logger.Warn().Err(err).Msg("Prune persisted bans failed")
		}
	}
}
