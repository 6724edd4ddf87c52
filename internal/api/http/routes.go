package httpapi

import (
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/hydro-data-aggregation/internal/catalog"
	"github.com/i474232898/hydro-data-aggregation/internal/common"
	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
	"github.com/i474232898/hydro-data-aggregation/internal/quicklook"
	"github.com/i474232898/hydro-data-aggregation/internal/store"
)

var validate = validator.New()

// Handlers bundles the services exposed over HTTP.
type Handlers struct {
	Service    *hydro.Service
	QuickLooks *quicklook.Store
	Catalog    *catalog.Catalog
	Watch      *store.MemoryStore
	Internal   bool

	sorter hydro.Sorter
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, h *Handlers) {
	v1 := app.Group("/api/v1")

	v1.Post("/query", h.query)
	v1.Get("/queries", h.listQueries)
	v1.Delete("/queries/:id", h.cancelQuery)

	v1.Get("/quicklooks", h.listQuickLooks)
	v1.Get("/quicklooks/:name", h.getQuickLook)
	v1.Put("/quicklooks/:name", h.saveQuickLook)
	v1.Delete("/quicklooks/:name", h.deleteQuickLook)
	v1.Post("/quicklooks/:name/run", h.runQuickLook)

	v1.Get("/catalog/:id", h.getCatalogEntry)
	v1.Put("/catalog", h.upsertCatalog)

	v1.Get("/watch", h.listWatches)
	v1.Get("/watch/:name", h.getWatch)
}

// itemRequest is one request item as sent by clients.
type itemRequest struct {
	DataID   string `json:"dataId" validate:"required"`
	Interval string `json:"interval" validate:"required"`
	Source   string `json:"source" validate:"required"`
}

// windowRequest holds the date window and column options of a run.
type windowRequest struct {
	Start      string `json:"start" validate:"required"`
	End        string `json:"end" validate:"required"`
	Overlay    bool   `json:"overlay"`
	Delta      bool   `json:"delta"`
	SortColumn *int   `json:"sortColumn" validate:"omitempty,min=0"`
	Descending bool   `json:"descending"`
}

type queryRequest struct {
	Items []itemRequest `json:"items" validate:"required,min=1,dive"`
	windowRequest
}

type quickLookRequest struct {
	Items []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type catalogRequest struct {
	Entries []catalogEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

type catalogEntryRequest struct {
	ID           string   `json:"id" validate:"required"`
	Site         string   `json:"site"`
	Label        string   `json:"label"`
	ExpectedMin  *float64 `json:"expectedMin"`
	ExpectedMax  *float64 `json:"expectedMax"`
	CutoffMin    *float64 `json:"cutoffMin"`
	CutoffMax    *float64 `json:"cutoffMax"`
	RateOfChange *float64 `json:"rateOfChange" validate:"omitempty,gte=0"`
}

// queryResponse is the delivered table with formatted row headers.
type queryResponse struct {
	QueryID    string         `json:"queryId"`
	Timestamps []string       `json:"timestamps"`
	Columns    []hydro.Column `json:"columns"`
	Warnings   []string       `json:"warnings,omitempty"`
}

func bindBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func toItems(reqs []itemRequest) ([]hydro.RequestItem, error) {
	items := make([]hydro.RequestItem, 0, len(reqs))
	for i, r := range reqs {
		src, err := hydro.ParseSource(r.Source)
		if err != nil {
			return nil, err
		}
		iv, err := hydro.ParseInterval(r.Interval)
		if err != nil {
			return nil, err
		}
		items = append(items, hydro.NewRequestItem(r.DataID, iv, src, i))
	}
	return items, nil
}

func (h *Handlers) query(c *fiber.Ctx) error {
	var req queryRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	items, err := toItems(req.Items)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return h.run(c, items, req.windowRequest)
}

func (h *Handlers) run(c *fiber.Ctx, items []hydro.RequestItem, win windowRequest) error {
	start, err := parseTime(win.Start)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "start: "+err.Error())
	}
	end, err := parseTime(win.End)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "end: "+err.Error())
	}
	if !end.After(start) {
		return fiber.NewError(fiber.StatusBadRequest, "end must be after start")
	}

	res, err := h.Service.Execute(c.UserContext(), hydro.Query{
		Items:    items,
		Start:    start,
		End:      end,
		Internal: h.Internal,
		Overlay:  win.Overlay,
		Delta:    win.Delta,
	})
	if err != nil {
		return queryError(err)
	}

	table := res.Table
	if win.SortColumn != nil {
		col := *win.SortColumn
		if col >= len(table.Columns) {
			return fiber.NewError(fiber.StatusBadRequest, "sortColumn out of range")
		}
		perm, ok := h.sorter.SortByColumn(table, col, win.Descending)
		if !ok {
			return fiber.NewError(fiber.StatusConflict, "a sort is already in progress")
		}
		table.Permute(<-perm)
	}

	return c.JSON(queryResponse{
		QueryID:    res.QueryID,
		Timestamps: hydro.Grid(table.Timestamps).Strings(),
		Columns:    table.Columns,
		Warnings:   res.Warnings,
	})
}

func queryError(err error) error {
	switch {
	case errors.Is(err, hydro.ErrInvalidRequest),
		errors.Is(err, hydro.ErrInvertedWindow),
		errors.Is(err, hydro.ErrEmptyGrid),
		errors.Is(err, hydro.ErrUnknownInterval):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, hydro.ErrCanceled):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, hydro.ErrTimedOut):
		return fiber.NewError(fiber.StatusGatewayTimeout, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, "query failed")
}

func (h *Handlers) listQueries(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	reg := h.Service.Registry()
	return c.JSON(fiber.Map{
		"active":  reg.Active(),
		"history": reg.History(limit),
	})
}

func (h *Handlers) cancelQuery(c *fiber.Ctx) error {
	if !h.Service.Cancel(c.Params("id")) {
		return fiber.NewError(fiber.StatusNotFound, "no active query with that id")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func nameParam(c *fiber.Ctx) (string, error) {
	name, err := url.PathUnescape(c.Params("name"))
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid quick-look name")
	}
	return name, nil
}

func quickLookError(err error) error {
	switch {
	case errors.Is(err, quicklook.ErrInvalidName):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, quicklook.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, "quick-look store failure")
}

func (h *Handlers) listQuickLooks(c *fiber.Ctx) error {
	names, err := h.QuickLooks.List()
	if err != nil {
		return quickLookError(err)
	}
	return c.JSON(fiber.Map{"quicklooks": names})
}

func (h *Handlers) getQuickLook(c *fiber.Ctx) error {
	name, err := nameParam(c)
	if err != nil {
		return err
	}
	items, err := h.QuickLooks.Load(name)
	if err != nil {
		return quickLookError(err)
	}
	return c.JSON(fiber.Map{"name": name, "items": items})
}

func (h *Handlers) saveQuickLook(c *fiber.Ctx) error {
	name, err := nameParam(c)
	if err != nil {
		return err
	}
	var req quickLookRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	items, err := toItems(req.Items)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := h.QuickLooks.Save(name, items); err != nil {
		return quickLookError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) deleteQuickLook(c *fiber.Ctx) error {
	name, err := nameParam(c)
	if err != nil {
		return err
	}
	if err := h.QuickLooks.Delete(name); err != nil {
		return quickLookError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) runQuickLook(c *fiber.Ctx) error {
	name, err := nameParam(c)
	if err != nil {
		return err
	}
	var win windowRequest
	if err := bindBody(c, &win); err != nil {
		return err
	}
	items, err := h.QuickLooks.Load(name)
	if err != nil {
		return quickLookError(err)
	}
	return h.run(c, items, win)
}

func (h *Handlers) getCatalogEntry(c *fiber.Ctx) error {
	id, err := url.PathUnescape(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	entry, ok := h.Catalog.Lookup(id)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no catalog entry for id")
	}
	return c.JSON(entry)
}

func (h *Handlers) upsertCatalog(c *fiber.Ctx) error {
	var req catalogRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	entries := make([]hydro.CatalogEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, hydro.CatalogEntry{
			ID:    e.ID,
			Site:  e.Site,
			Label: e.Label,
			Bounds: hydro.Bounds{
				ExpectedMin:  e.ExpectedMin,
				ExpectedMax:  e.ExpectedMax,
				CutoffMin:    e.CutoffMin,
				CutoffMax:    e.CutoffMax,
				RateOfChange: e.RateOfChange,
			},
		})
	}
	if err := h.Catalog.UpsertAll(entries); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := h.Catalog.Persist(); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to persist catalog")
	}
	return c.JSON(fiber.Map{"updated": len(entries)})
}

func (h *Handlers) listWatches(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"names": h.Watch.Names()})
}

func (h *Handlers) getWatch(c *fiber.Ctx) error {
	name, err := nameParam(c)
	if err != nil {
		return err
	}

	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" && toStr == "" {
		snap, err := h.Watch.GetLatest(name)
		if err != nil {
			return watchError(err)
		}
		return c.JSON(snap)
	}

	from, err := parseInstant(fromStr)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "from: "+err.Error())
	}
	to, err := parseInstant(toStr)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "to: "+err.Error())
	}
	snaps, err := h.Watch.GetRange(name, from, to)
	if err != nil {
		return watchError(err)
	}
	return c.JSON(fiber.Map{"quickLook": name, "from": from, "to": to, "snapshots": snaps})
}

func watchError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no watch result for requested quick-look")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to read watch results")
}

var wallClockLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime reads a wall-clock window bound: the grid form MM/DD/YY HH:MM:SS,
// RFC3339 (offset dropped), or an ISO date with optional minutes.
func parseTime(s string) (time.Time, error) {
	if common.HasAny(s, "/") {
		return hydro.ParseTimestamp(s)
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return hydro.WallClock(ts), nil
	}
	for _, layout := range wallClockLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.New("invalid time format; use MM/DD/YY HH:MM:SS, RFC3339 or YYYY-MM-DD[THH:MM]")
}

// parseInstant tries to parse either RFC3339 or Unix seconds.
func parseInstant(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
