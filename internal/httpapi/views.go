package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"merchant-voucher/pkg/db/pagination"
	"merchant-voucher/pkg/errutil"
	"merchant-voucher/services/event"
	"merchant-voucher/services/projector"
	"merchant-voucher/services/snapshot"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
)

type ListResponse[T any] struct {
	Data      []T               `json:"data"`
	Watermark snapshot.Position `json:"watermark"`
}

func tokenID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		_ = c.Error(errutil.BadRequest("token id must be an unsigned integer", err))
		return 0, false
	}
	return id, true
}

// ListCertificates accepts ?owner= to narrow to one merchant.
func (h *Handler) ListCertificates(c *gin.Context) {
	var owner *common.Address
	if raw := c.Query("owner"); raw != "" {
		if !common.IsHexAddress(raw) {
			_ = c.Error(errutil.BadRequest("invalid owner address", nil))
			return
		}
		addr := common.HexToAddress(raw)
		owner = &addr
	}

	now := h.now()
	res := ListResponse[snapshot.Certificate]{Data: []snapshot.Certificate{}}
	h.projector.ReadStatus(func(v projector.Views, s projector.Status) {
		res.Watermark = snapshot.NewPosition(s.Watermark)
		certs := v.Registry.List()
		if owner != nil {
			certs = v.Registry.CertsOwnedBy(*owner)
		}
		for _, cert := range certs {
			res.Data = append(res.Data, snapshot.NewCertificate(cert, now))
		}
	})
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetCertificate(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}

	var (
		out snapshot.Certificate
		err error
	)
	now := h.now()
	h.projector.Read(func(v projector.Views) {
		cert, lookupErr := v.Registry.CertOf(id)
		if lookupErr != nil {
			err = lookupErr
			return
		}
		out = snapshot.NewCertificate(cert, now)
	})
	if err != nil {
		_ = c.Error(apiError(err))
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListVoucherTypes(c *gin.Context) {
	now := h.now()
	res := ListResponse[snapshot.VoucherType]{Data: []snapshot.VoucherType{}}
	h.projector.ReadStatus(func(v projector.Views, s projector.Status) {
		res.Watermark = snapshot.NewPosition(s.Watermark)
		for _, vt := range v.Catalog.List() {
			res.Data = append(res.Data, snapshot.NewVoucherType(vt, now))
		}
	})
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetVoucherType(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}

	var (
		out snapshot.VoucherType
		err error
	)
	now := h.now()
	h.projector.Read(func(v projector.Views) {
		vt, lookupErr := v.Catalog.Lookup(id)
		if lookupErr != nil {
			err = lookupErr
			return
		}
		out = snapshot.NewVoucherType(vt, now)
	})
	if err != nil {
		_ = c.Error(apiError(err))
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListHoldings(c *gin.Context) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		_ = c.Error(errutil.BadRequest("invalid holder address", nil))
		return
	}
	holder := common.HexToAddress(raw)

	res := ListResponse[snapshot.Holding]{Data: []snapshot.Holding{}}
	h.projector.ReadStatus(func(v projector.Views, s projector.Status) {
		res.Watermark = snapshot.NewPosition(s.Watermark)
		for _, holding := range v.Ledger.Holdings(holder) {
			res.Data = append(res.Data, snapshot.NewHolding(holding))
		}
	})
	c.JSON(http.StatusOK, res)
}

// ListClaimPools accepts ?claimable=true to hide pools that cannot serve
// another claim.
func (h *Handler) ListClaimPools(c *gin.Context) {
	onlyClaimable := c.Query("claimable") == "true"

	res := ListResponse[snapshot.Pool]{Data: []snapshot.Pool{}}
	h.projector.ReadStatus(func(v projector.Views, s projector.Status) {
		res.Watermark = snapshot.NewPosition(s.Watermark)
		entries := v.Pool.List()
		if onlyClaimable {
			entries = v.Pool.ListClaimable()
		}
		for _, e := range entries {
			res.Data = append(res.Data, snapshot.NewPool(e))
		}
	})
	c.JSON(http.StatusOK, res)
}

type Input struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type Event struct {
	TxHash          string    `json:"tx_hash"`
	LogIndex        uint64    `json:"log_index"`
	BlockNumber     uint64    `json:"block_number"`
	TriggeredAt     time.Time `json:"triggered_at"`
	From            string    `json:"from"`
	ContractAddress string    `json:"contract_address"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	Inputs          []Input   `json:"inputs"`
}

func NewEvent(e event.Event) Event {
	inputs := make([]Input, 0, len(e.Inputs))
	for _, in := range e.Inputs {
		inputs = append(inputs, Input{Name: in.Name, Value: in.Value})
	}
	return Event{
		TxHash:          e.TxHash.Hex(),
		LogIndex:        e.LogIndex,
		BlockNumber:     e.BlockNumber,
		TriggeredAt:     e.TriggeredAt.UTC(),
		From:            e.From.Hex(),
		ContractAddress: e.ContractAddress.Hex(),
		Name:            e.Name,
		Category:        e.Category(),
		Inputs:          inputs,
	}
}

// ListEvents returns the latest replayed events, newest first.
func (h *Handler) ListEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = c.Error(errutil.BadRequest("limit must be a positive integer", err))
			return
		}
		limit = min(n, maxEventLimit)
	}

	events := h.projector.Recent(limit)
	data := make([]Event, 0, len(events))
	for _, e := range events {
		data = append(data, NewEvent(e))
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "status": h.projector.Status()})
}

type EventPage struct {
	Data     []Event             `json:"data"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// PageEvents walks the stored log in ledger order, including events the
// projector skipped.
func (h *Handler) PageEvents(c *gin.Context) {
	if h.log == nil {
		_ = c.Error(errutil.NotImplemented("event log is not available", nil))
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}
	cursor, err := pagination.DecodeCursor(page.Cursor)
	if err != nil {
		_ = c.Error(errutil.BadRequest("invalid cursor", err))
		return
	}

	after := event.Position{Block: cursor.Block, LogIndex: cursor.LogIndex}
	events, err := h.log.Page(c.Request.Context(), after, page.Limit+1)
	if err != nil {
		_ = c.Error(apiError(err))
		return
	}

	events, info, err := pagination.BuildCursorPageInfo(events, page.Limit, func(e event.Event) pagination.Cursor {
		return pagination.Cursor{Block: e.BlockNumber, LogIndex: e.LogIndex}
	})
	if err != nil {
		_ = c.Error(apiError(err))
		return
	}

	res := EventPage{Data: make([]Event, 0, len(events)), PageInfo: info}
	for _, e := range events {
		res.Data = append(res.Data, NewEvent(e))
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ExportSnapshot(c *gin.Context) {
	if h.exporter == nil {
		_ = c.Error(errutil.NotImplemented("snapshot export is not configured", nil))
		return
	}

	info, err := h.exporter.Export(c.Request.Context())
	if err != nil {
		_ = c.Error(errutil.BadGateway("snapshot export failed", err))
		return
	}
	c.JSON(http.StatusCreated, info)
}
