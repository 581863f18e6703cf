package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"merchant-voucher/pkg/gateway"
	"merchant-voucher/services/event"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"go.uber.org/zap"
)

type source struct {
	contract  gateway.Contract
	signature string
}

func (s source) key() string {
	return s.contract.Label + "/" + s.signature
}

type certAttributes struct {
	typeID json.RawMessage
	expiry json.RawMessage
}

// Syncer pulls event pages from the gateway and hands them to the projector.
// Each source is read from the offset reached by the previous poll, page by
// page, until the gateway returns a short page.
type Syncer struct {
	gateway   gateway.Client
	projector *Projector
	contracts gateway.Contracts
	cursors   event.CursorStore
	pageLimit int
	interval  time.Duration

	syncMu  sync.Mutex
	offsets map[string]int
	loaded  bool

	group  singleflight.Group
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SyncerOptions struct {
	PageLimit    int
	PollInterval time.Duration
	Cursors      event.CursorStore
}

func NewSyncer(gw gateway.Client, p *Projector, contracts gateway.Contracts, opts SyncerOptions) *Syncer {
	if opts.PageLimit <= 0 {
		opts.PageLimit = 50
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Cursors == nil {
		opts.Cursors = event.NewMemoryCursorStore()
	}
	return &Syncer{
		gateway:   gw,
		projector: p,
		contracts: contracts,
		cursors:   opts.Cursors,
		pageLimit: opts.PageLimit,
		interval:  opts.PollInterval,
		offsets:   make(map[string]int),
	}
}

func (s *Syncer) sources() []source {
	return []source{
		{contract: s.contracts.Merchant, signature: event.SigTransfer},
		{contract: s.contracts.Merchant, signature: event.SigCertificationRevoked},
		{contract: s.contracts.Voucher, signature: event.SigVoucherTypeDefined},
		{contract: s.contracts.Voucher, signature: event.SigVoucherMinted},
		{contract: s.contracts.Voucher, signature: event.SigVoucherUsed},
		{contract: s.contracts.Voucher, signature: event.SigClaimPoolOpened},
		{contract: s.contracts.Voucher, signature: event.SigVoucherClaimed},
	}
}

// loadOffsets reads the stored offsets once. They are ignored while the
// projector holds no events, since they would point past a log that is no
// longer stored.
func (s *Syncer) loadOffsets(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	if s.projector.Status().Events > 0 {
		stored, err := s.cursors.Offsets(ctx)
		if err != nil {
			return fmt.Errorf("load source offsets: %w", err)
		}
		for k, v := range stored {
			s.offsets[k] = v
		}
	}
	s.loaded = true
	return nil
}

// fetch reads every event of src from offset onwards.
func (s *Syncer) fetch(ctx context.Context, src source, offset int) ([]event.Event, error) {
	var out []event.Event
	for {
		page, err := s.gateway.ListEvents(ctx, gateway.EventQuery{
			Contract:  src.contract,
			Signature: src.signature,
			Limit:     s.pageLimit,
			Offset:    offset + len(out),
		})
		if err != nil {
			return nil, fmt.Errorf("list %s on %s at offset %d: %w", src.signature, src.contract, offset+len(out), err)
		}
		out = append(out, page...)
		if len(page) < s.pageLimit {
			return out, nil
		}
	}
}

// Sync fetches every tracked signature past its stored offset and ingests
// the union as one batch. Offsets only move once the batch is ingested.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	status, err := s.gateway.ChainStatus(ctx)
	if err != nil {
		syncErrorsTotal.Inc()
		return Result{}, err
	}
	if err := s.projector.CheckHead(status.BlockNumber); err != nil {
		return Result{}, err
	}
	if err := s.loadOffsets(ctx); err != nil {
		syncErrorsTotal.Inc()
		return Result{}, err
	}

	sources := s.sources()
	fetched := make([][]event.Event, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		offset := s.offsets[src.key()]
		g.Go(func() error {
			events, err := s.fetch(gctx, src, offset)
			if err != nil {
				return err
			}
			fetched[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		syncErrorsTotal.Inc()
		return Result{}, err
	}

	var batch []event.Event
	for _, events := range fetched {
		batch = append(batch, events...)
	}
	batch, dropped := s.enrich(ctx, batch)

	res, err := s.projector.Ingest(ctx, batch)
	if err != nil {
		return res, err
	}

	advanced := make(map[string]int, len(sources))
	for i, src := range sources {
		n := 0
		for _, e := range fetched[i] {
			if dropped[e.Key()] {
				break
			}
			n++
		}
		if n > 0 {
			s.offsets[src.key()] += n
			advanced[src.key()] = s.offsets[src.key()]
		}
	}
	if err := s.cursors.SaveOffsets(ctx, advanced); err != nil {
		// the next start re-reads from the last saved offsets and dedups
		zap.L().Warn("[Syncer] failed to save offsets", zap.Error(err))
	}
	return res, nil
}

// enrich attaches the merchant type and expiry to certificate mints. A mint
// that cannot be enriched is left out of the batch and reported in dropped,
// so its source offset stays on it and the next poll retries it.
func (s *Syncer) enrich(ctx context.Context, events []event.Event) ([]event.Event, map[event.Key]bool) {
	out := make([]event.Event, 0, len(events))
	dropped := make(map[event.Key]bool)
	for _, e := range events {
		if !isCertificateMint(e) || s.projector.Seen(e.Key()) {
			out = append(out, e)
			continue
		}

		tokenID, err := e.TokenID()
		if err != nil {
			out = append(out, e)
			continue
		}

		attrs, err := s.certAttributes(ctx, tokenID)
		if err != nil {
			syncErrorsTotal.Inc()
			zap.L().Warn("failed to enrich certificate mint",
				zap.String("tx_hash", e.TxHash.Hex()),
				zap.Uint64("token_id", tokenID),
				zap.Error(err),
			)
			dropped[e.Key()] = true
			continue
		}

		out = append(out, e.
			WithInput(event.InputMerchantTypeID, attrs.typeID).
			WithInput(event.InputExpirationTime, attrs.expiry))
	}
	return out, dropped
}

func (s *Syncer) certAttributes(ctx context.Context, tokenID uint64) (certAttributes, error) {
	v, err, _ := s.group.Do(strconv.FormatUint(tokenID, 10), func() (any, error) {
		read := func(method string) (json.RawMessage, error) {
			res, err := s.gateway.Call(ctx, gateway.CallRequest{
				Contract: s.contracts.Merchant,
				Method:   method,
				Args:     []any{strconv.FormatUint(tokenID, 10)},
			})
			if err != nil {
				return nil, err
			}
			n, err := res.Uint256()
			if err != nil {
				return nil, err
			}
			return json.RawMessage(strconv.Quote(n.Dec())), nil
		}

		typeID, err := read("merchantTypeId")
		if err != nil {
			return nil, err
		}
		expiry, err := read("expirationTime")
		if err != nil {
			return nil, err
		}
		return certAttributes{typeID: typeID, expiry: expiry}, nil
	})
	if err != nil {
		return certAttributes{}, err
	}
	return v.(certAttributes), nil
}

func isCertificateMint(e event.Event) bool {
	if e.Name != event.NameTransfer || (e.HasInput(event.InputMerchantTypeID) && e.HasInput(event.InputExpirationTime)) {
		return false
	}
	from, err := e.Address("from")
	return err == nil && from == (common.Address{})
}

// Start runs Sync on the poll interval until Stop is called.
func (s *Syncer) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		zap.L().Info("[Syncer] started", zap.Duration("interval", s.interval))
		for {
			s.tick(ctx)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				zap.L().Info("[Syncer] stopped")
				return
			}
		}
	}()
}

func (s *Syncer) tick(ctx context.Context) {
	res, err := s.Sync(ctx)
	if err != nil {
		if ctx.Err() == nil {
			zap.L().Error("[Syncer] sync failed", zap.Error(err))
		}
		return
	}
	if res.Applied > 0 || res.Skipped > 0 || res.Rebuilt {
		zap.L().Info("[Syncer] ingested",
			zap.Int("applied", res.Applied),
			zap.Int("skipped", res.Skipped),
			zap.Int("duplicates", res.Duplicates),
			zap.Bool("rebuilt", res.Rebuilt),
		)
	}
}

func (s *Syncer) Stop(ctx context.Context) error {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
