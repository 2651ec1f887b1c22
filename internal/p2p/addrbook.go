package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/btcrelay/internal/storage"
)

const (
	addrKeyPrefix   = "addr/"
	addrStaleAfter  = 24 * time.Hour
	persistInterval = 5 * time.Minute
	maxAddrRecords  = 500
	maxRedials      = 32
)

// AddrRecord remembers how to reach a peer that completed the handshake.
type AddrRecord struct {
	ID       string   `json:"id"`
	Addrs    []string `json:"addrs"`
	LastSeen int64    `json:"last_seen"` // Unix seconds
}

// AddrBook persists peer addresses in a storage.DB under the "addr/" prefix.
type AddrBook struct {
	db storage.DB
}

// NewAddrBook creates an AddrBook backed by db.
func NewAddrBook(db storage.DB) *AddrBook {
	return &AddrBook{db: db}
}

func addrKey(id string) []byte {
	return []byte(addrKeyPrefix + id)
}

// Save stores rec. New peers are dropped silently once the book is full.
func (ab *AddrBook) Save(rec AddrRecord) error {
	key := addrKey(rec.ID)
	exists, err := ab.db.Has(key)
	if err != nil {
		return fmt.Errorf("check addr record: %w", err)
	}
	if !exists {
		count, err := ab.Count()
		if err != nil {
			return err
		}
		if count >= maxAddrRecords {
			return nil
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal addr record: %w", err)
	}
	return ab.db.Put(key, data)
}

// Recent returns up to limit records, most recently seen first.
func (ab *AddrBook) Recent(limit int) ([]AddrRecord, error) {
	var records []AddrRecord
	err := ab.db.ForEach([]byte(addrKeyPrefix), func(_, value []byte) error {
		var rec AddrRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate addr records: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].LastSeen > records[j].LastSeen })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Prune removes records not seen since cutoff, and corrupt ones.
func (ab *AddrBook) Prune(cutoff time.Time) (int, error) {
	var stale [][]byte
	err := ab.db.ForEach([]byte(addrKeyPrefix), func(key, value []byte) error {
		var rec AddrRecord
		if err := json.Unmarshal(value, &rec); err != nil || rec.LastSeen < cutoff.Unix() {
			stale = append(stale, append([]byte(nil), key...))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate addr records: %w", err)
	}
	for _, k := range stale {
		if err := ab.db.Delete(k); err != nil {
			return 0, fmt.Errorf("delete stale addr: %w", err)
		}
	}
	return len(stale), nil
}

// Count returns the number of stored records.
func (ab *AddrBook) Count() (int, error) {
	count := 0
	err := ab.db.ForEach([]byte(addrKeyPrefix), func(_, _ []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count addr records: %w", err)
	}
	return count, nil
}

// addrInfo rebuilds a dialable AddrInfo, skipping unparsable addresses.
func (r AddrRecord) addrInfo() (peer.AddrInfo, error) {
	id, err := peer.Decode(r.ID)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	info := peer.AddrInfo{ID: id}
	for _, s := range r.Addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, a)
	}
	return info, nil
}

// persistAddrs records the addresses of every ready peer.
func (n *Node) persistAddrs() {
	if n.addrBook == nil || n.host == nil {
		return
	}
	now := time.Now().Unix()
	for _, id := range n.ConnectedPeers() {
		addrs := n.host.Peerstore().Addrs(id)
		if len(addrs) == 0 {
			continue
		}
		rec := AddrRecord{ID: id.String(), LastSeen: now}
		for _, a := range addrs {
			rec.Addrs = append(rec.Addrs, a.String())
		}
		if err := n.addrBook.Save(rec); err != nil {
			n.logger.Debug().Err(err).Str("peer", shortID(id)).Msg("Save peer address failed")
		}
	}
}

// dialAddrBook reconnects to peers remembered from earlier runs.
func (n *Node) dialAddrBook() {
	if _, err := n.addrBook.Prune(time.Now().Add(-addrStaleAfter)); err != nil {
		n.logger.Debug().Err(err).Msg("Prune address book failed")
	}
	records, err := n.addrBook.Recent(maxRedials)
	if err != nil {
		n.logger.Debug().Err(err).Msg("Load address book failed")
		return
	}
	for _, rec := range records {
		if n.ctx.Err() != nil || n.full() {
			return
		}
		info, err := rec.addrInfo()
		if err != nil || info.ID == n.host.ID() || len(info.Addrs) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		if err := n.host.Connect(ctx, info); err == nil {
			n.addPeer(info.ID, network.DirOutbound, SourceAddrBook)
		}
		cancel()
	}
}

func (n *Node) runPersistLoop() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.persistAddrs()
			n.addrBook.Prune(time.Now().Add(-addrStaleAfter))
		}
	}
}
