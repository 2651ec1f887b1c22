package blocksync

import (
	"bytes"
	"sort"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Tick reconciles the peer set with the transport, handles timeouts,
// schedules body fetches and flushes queued commands. Time is read once
// at the start.
func (c *Coordinator) Tick(t Transport) {
	now := c.now()

	c.reconcilePeers(t)
	c.expireHeaderRequests(t, now)
	c.expireFetches(now)
	c.scheduleFetches(now)
	c.flush(t)
	c.reportState()
}

func (c *Coordinator) reconcilePeers(t Transport) {
	ids := t.ConnectedPeers()
	connected := make(map[peer.ID]struct{}, len(ids))
	for _, id := range ids {
		connected[id] = struct{}{}
	}
	for id := range c.peers {
		if _, ok := connected[id]; !ok {
			c.RemovePeer(id)
		}
	}
	for _, id := range ids {
		c.AddPeer(id)
	}
}

func (c *Coordinator) expireHeaderRequests(t Transport, now time.Time) {
	for id, p := range c.peers {
		if p.request == nil || now.Sub(p.request.sentAt) <= HeadersRequestTimeout {
			continue
		}
		c.metrics.HeaderRequestTimeouts.Add(1)
		switch p.request.onTimeout {
		case DisconnectOnTimeout:
			c.logger.Warn().Stringer("peer", id).Msg("Getheaders timed out, disconnecting")
			c.RemovePeer(id)
			if err := t.DisconnectPeer(id); err != nil {
				c.logger.Debug().Stringer("peer", id).Err(err).Msg("Disconnect failed")
			}
		default:
			c.logger.Debug().Stringer("peer", id).Msg("Getheaders timed out")
			p.request = nil
		}
	}
}

// expireFetches drops fetches older than FetchTimeout and returns their
// items to the frontier.
func (c *Coordinator) expireFetches(now time.Time) {
	for item, req := range c.pending {
		if now.Sub(req.sentAt) <= FetchTimeout {
			continue
		}
		if p, ok := c.peers[req.peer]; ok && p.outstanding > 0 {
			p.outstanding--
		}
		delete(c.pending, item)
		c.frontier[item] = struct{}{}
		c.metrics.FetchTimeouts.Add(1)
		c.logger.Debug().
			Stringer("peer", req.peer).
			Stringer("hash", item.Hash).
			Msg("Block fetch expired")
	}
}

// scheduleFetches hands frontier items to peers, least loaded first.
func (c *Coordinator) scheduleFetches(now time.Time) {
	if len(c.frontier) == 0 || len(c.peers) == 0 {
		return
	}

	candidates := make([]wire.InvVect, 0, len(c.frontier))
	for item := range c.frontier {
		if _, ok := c.pending[item]; !ok {
			candidates = append(candidates, item)
		}
	}
	sortInv(candidates)

	peers := make([]*peerState, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].outstanding != peers[j].outstanding {
			return peers[i].outstanding < peers[j].outstanding
		}
		return peers[i].id < peers[j].id
	})

	for _, p := range peers {
		room := MaxInFlightPerPeer - p.outstanding
		if room <= 0 || len(candidates) == 0 {
			break
		}
		selected := c.sampler.Sample(candidates, room)
		if len(selected) == 0 {
			break
		}

		msg := wire.NewMsgGetDataSizeHint(uint(len(selected)))
		chosen := make(map[wire.InvVect]struct{}, len(selected))
		for i := range selected {
			item := selected[i]
			// selected is bounded by MaxInFlightPerPeer, far below wire.MaxInvPerMsg.
			_ = msg.AddInvVect(&item)
			chosen[item] = struct{}{}
			c.pending[item] = &pendingFetch{
				peer:      p.id,
				item:      item,
				sentAt:    now,
				onTimeout: IgnoreOnTimeout,
			}
			delete(c.frontier, item)
		}
		p.outstanding += len(selected)
		c.outbox = append(c.outbox, Command{Peer: p.id, Message: msg})
		c.metrics.GetDataSent.Add(float64(len(selected)))

		remaining := candidates[:0]
		for _, item := range candidates {
			if _, ok := chosen[item]; !ok {
				remaining = append(remaining, item)
			}
		}
		candidates = remaining

		c.logger.Debug().
			Stringer("peer", p.id).
			Int("items", len(selected)).
			Int("outstanding", p.outstanding).
			Msg("Sending getdata")
	}
}

func (c *Coordinator) flush(t Transport) {
	for _, cmd := range c.outbox {
		if err := t.Send(cmd); err != nil {
			c.logger.Debug().
				Stringer("peer", cmd.Peer).
				Str("command", cmd.Message.Command()).
				Err(err).
				Msg("Send failed")
		}
	}
	c.outbox = nil
}

func sortInv(items []wire.InvVect) {
	sort.Slice(items, func(i, j int) bool {
		if cmp := bytes.Compare(items[i].Hash[:], items[j].Hash[:]); cmp != 0 {
			return cmp < 0
		}
		return items[i].Type < items[j].Type
	})
}
