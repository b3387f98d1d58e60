package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"labstock/internal/common"
	apperrors "labstock/internal/errors"
	"labstock/internal/models"
	"labstock/internal/services"
	"labstock/internal/tree"
	"labstock/internal/validator"
	"labstock/internal/views"

	"github.com/labstack/echo/v4"
)

const (
	catalogContextKey = "catalog"
	maxImageSize      = 10 * 1024 * 1024

	// EditorSessionHeader carries the token returned by POST editor/open.
	EditorSessionHeader = "X-Editor-Session"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// CatalogEndpoint is one catalog as served over HTTP. Preview may be nil.
type CatalogEndpoint struct {
	*services.CatalogServices
	Preview *views.Preview
}

// CatalogHandlers serves the tree, items and editor of every catalog under
// /v1/catalogs/:catalog.
type CatalogHandlers struct {
	catalogs map[string]*CatalogEndpoint
}

// NewCatalogHandlers creates a new catalog handlers instance
func NewCatalogHandlers(endpoints ...*CatalogEndpoint) *CatalogHandlers {
	h := &CatalogHandlers{catalogs: make(map[string]*CatalogEndpoint, len(endpoints))}
	for _, ep := range endpoints {
		h.catalogs[ep.Catalog.Name] = ep
	}
	return h
}

// Register mounts the routes on g. Mutating routes are wrapped in write.
func (h *CatalogHandlers) Register(g *echo.Group, write ...echo.MiddlewareFunc) {
	cg := g.Group("/catalogs/:catalog", h.resolveCatalog)

	cg.GET("/tree", h.GetTree)
	cg.GET("/nav", h.GetNav)
	cg.GET("/items", h.ListItems)
	cg.POST("/items", h.CreateItem, write...)
	cg.PUT("/items/:id", h.UpdateItem, write...)
	cg.DELETE("/items/:id", h.DeleteItem, write...)

	cg.GET("/editor", h.GetEditor)
	cg.POST("/editor/open", h.OpenEditor, write...)
	cg.POST("/editor/intents", h.ApplyIntent, write...)
	cg.POST("/editor/reorder", h.ReorderEditor, write...)
	cg.POST("/editor/commit", h.CommitEditor, write...)
	cg.POST("/editor/discard", h.DiscardEditor, write...)
}

func (h *CatalogHandlers) resolveCatalog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ep, ok := h.catalogs[c.Param("catalog")]
		if !ok {
			return common.SendNotFoundError(c, "Unknown catalog "+c.Param("catalog"))
		}
		c.Set(catalogContextKey, ep)
		return next(c)
	}
}

func endpoint(c echo.Context) *CatalogEndpoint {
	return c.Get(catalogContextKey).(*CatalogEndpoint)
}

// TreeResponse carries the canonical tree. Fallback is set while it is the
// built-in default because the store could not be read.
type TreeResponse struct {
	Catalog  string                `json:"catalog"`
	Tree     *tree.Tree            `json:"tree"`
	Fallback bool                  `json:"fallback,omitempty"`
	Warning  *common.ErrorResponse `json:"warning,omitempty"`
}

// GetTree handles GET /catalogs/:catalog/tree?refresh=
//
// The tree is the editor's canonical tree, the same one nav and grouped
// items render. refresh=true reloads it from the store first.
func (h *CatalogHandlers) GetTree(c echo.Context) error {
	ep := endpoint(c)

	var reloadErr error
	if refresh, _ := strconv.ParseBool(c.QueryParam("refresh")); refresh {
		_, reloadErr = ep.Editor.ReloadCanonical(c.Request().Context())
	}

	t, fallbackErr := ep.Editor.CanonicalTree()
	resp := TreeResponse{Catalog: ep.Catalog.Name, Tree: t}
	if fallbackErr != nil {
		resp.Fallback = true
		reloadErr = fallbackErr
	}
	if reloadErr != nil {
		appErr := apperrors.As(reloadErr)
		resp.Warning = common.CreateErrorResponse(appErr.Code, appErr.Message, nil)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetNav handles GET /catalogs/:catalog/nav
func (h *CatalogHandlers) GetNav(c echo.Context) error {
	ep := endpoint(c)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"catalog":    ep.Catalog.Name,
		"label":      ep.Label,
		"categories": views.BuildSidebar(ep.Catalog.Name, ep.Editor.Canonical()),
	})
}

// ListItems handles GET /catalogs/:catalog/items?category=&grouped=
func (h *CatalogHandlers) ListItems(c echo.Context) error {
	ep := endpoint(c)
	items, err := ep.Items.FetchItems(c.Request().Context(), c.QueryParam("category"))
	if err != nil {
		return common.SendAppError(c, err)
	}
	if grouped, _ := strconv.ParseBool(c.QueryParam("grouped")); grouped {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"groups": views.GroupItems(ep.Editor.Canonical(), items),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// CreateItem handles POST /catalogs/:catalog/items. The body is JSON, or a
// multipart form with an optional "image" file.
func (h *CatalogHandlers) CreateItem(c echo.Context) error {
	ep := endpoint(c)

	var input models.ItemInput
	var image *models.ImageUpload
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		var src io.Closer
		var err error
		input, image, src, err = readMultipartItem(c)
		if err != nil {
			return common.SendAppError(c, err)
		}
		if src != nil {
			defer src.Close()
		}
	} else if err := c.Bind(&input); err != nil {
		return common.SendClientError(c, "Invalid request body")
	}

	item, err := ep.Items.AddItem(c.Request().Context(), input, image)
	if err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusCreated, item)
}

// readMultipartItem reads the form fields and the optional image. The
// returned closer, when not nil, releases the image file.
func readMultipartItem(c echo.Context) (models.ItemInput, *models.ImageUpload, io.Closer, error) {
	input := models.ItemInput{
		Name:     c.FormValue("name"),
		Location: c.FormValue("location"),
		Category: c.FormValue("category"),
	}
	if raw := strings.TrimSpace(c.FormValue("quantity")); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil {
			return input, nil, nil, apperrors.WithMessage(apperrors.ErrValidation, "Validation failed: quantity must be an integer")
		}
		input.Quantity = &q
	}

	file, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return input, nil, nil, nil
	}
	if err != nil {
		return input, nil, nil, apperrors.Wrap(apperrors.ErrValidation, err)
	}
	if file.Size > maxImageSize {
		return input, nil, nil, apperrors.WithMessage(apperrors.ErrValidation, "Validation failed: image exceeds 10MB")
	}

	src, err := file.Open()
	if err != nil {
		return input, nil, nil, apperrors.Wrap(apperrors.ErrValidation, err)
	}

	// Read first 512 bytes to detect content type
	buffer := make([]byte, 512)
	n, err := src.Read(buffer)
	if err != nil && err != io.EOF {
		src.Close()
		return input, nil, nil, apperrors.Wrap(apperrors.ErrValidation, err)
	}
	contentType := http.DetectContentType(buffer[:n])
	if !allowedImageTypes[contentType] {
		src.Close()
		return input, nil, nil, apperrors.WithMessage(apperrors.ErrValidation, "Validation failed: image must be JPEG, PNG, GIF or WebP")
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		src.Close()
		return input, nil, nil, apperrors.Wrap(apperrors.ErrValidation, err)
	}

	return input, &models.ImageUpload{
		Filename:    file.Filename,
		ContentType: contentType,
		Size:        file.Size,
		Reader:      src,
	}, src, nil
}

// UpdateItem handles PUT /catalogs/:catalog/items/:id
func (h *CatalogHandlers) UpdateItem(c echo.Context) error {
	ep := endpoint(c)
	var patch models.ItemPatch
	if err := c.Bind(&patch); err != nil {
		return common.SendClientError(c, "Invalid request body")
	}
	if err := ep.Items.UpdateItem(c.Request().Context(), c.Param("id"), patch); err != nil {
		return common.SendAppError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteItem handles DELETE /catalogs/:catalog/items/:id
func (h *CatalogHandlers) DeleteItem(c echo.Context) error {
	ep := endpoint(c)
	if err := ep.Items.DeleteItem(c.Request().Context(), c.Param("id")); err != nil {
		return common.SendAppError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// EditorResponse is the session snapshot plus the sidebar of the tree the
// client should show while editing. The working copy and preview are only
// sent to the session holder.
type EditorResponse struct {
	services.EditorSnapshot
	Session   string              `json:"session,omitempty"`
	Preview   []views.NavCategory `json:"preview,omitempty"`
	CreatedID string              `json:"createdId,omitempty"`
}

func editorSession(c echo.Context) string {
	return strings.TrimSpace(c.Request().Header.Get(EditorSessionHeader))
}

func editorResponse(ep *CatalogEndpoint, session string) EditorResponse {
	resp := EditorResponse{EditorSnapshot: ep.Editor.SnapshotFor(session)}
	if resp.Working != nil && ep.Preview != nil {
		resp.Preview = ep.Preview.Latest()
	}
	return resp
}

// GetEditor handles GET /catalogs/:catalog/editor
func (h *CatalogHandlers) GetEditor(c echo.Context) error {
	return c.JSON(http.StatusOK, editorResponse(endpoint(c), editorSession(c)))
}

// OpenEditor handles POST /catalogs/:catalog/editor/open. The returned
// session token must be sent in X-Editor-Session on every later editor call.
func (h *CatalogHandlers) OpenEditor(c echo.Context) error {
	ep := endpoint(c)
	session, err := ep.Editor.OpenSession()
	if err != nil {
		return common.SendAppError(c, err)
	}
	resp := editorResponse(ep, session)
	resp.Session = session
	return c.JSON(http.StatusOK, resp)
}

// ApplyIntent handles POST /catalogs/:catalog/editor/intents
func (h *CatalogHandlers) ApplyIntent(c echo.Context) error {
	ep := endpoint(c)
	var intent services.Intent
	if err := c.Bind(&intent); err != nil {
		return common.SendClientError(c, "Invalid request body")
	}
	if err := validator.Struct(intent); err != nil {
		return c.JSON(http.StatusBadRequest, common.CreateErrorResponse(
			apperrors.ErrValidation.Code, apperrors.ErrValidation.Message, validator.Describe(err)))
	}
	session := editorSession(c)
	id, err := ep.Editor.ApplyAs(session, intent)
	if err != nil {
		return common.SendAppError(c, err)
	}
	resp := editorResponse(ep, session)
	if intent.Kind == services.IntentAddChild {
		resp.CreatedID = id
	}
	return c.JSON(http.StatusOK, resp)
}

// ReorderRequest is the order observed when a drag ends.
type ReorderRequest struct {
	Order []tree.OrderedCategory `json:"order"`
}

// ReorderEditor handles POST /catalogs/:catalog/editor/reorder
func (h *CatalogHandlers) ReorderEditor(c echo.Context) error {
	ep := endpoint(c)
	var req ReorderRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request body")
	}
	session := editorSession(c)
	if err := ep.Editor.ReorderAs(session, req.Order); err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, editorResponse(ep, session))
}

// CommitEditor handles POST /catalogs/:catalog/editor/commit
func (h *CatalogHandlers) CommitEditor(c echo.Context) error {
	ep := endpoint(c)
	session := editorSession(c)
	if err := ep.Editor.CommitAs(c.Request().Context(), session); err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, editorResponse(ep, session))
}

// DiscardEditor handles POST /catalogs/:catalog/editor/discard
func (h *CatalogHandlers) DiscardEditor(c echo.Context) error {
	ep := endpoint(c)
	session := editorSession(c)
	if err := ep.Editor.DiscardAs(session); err != nil {
		return common.SendAppError(c, err)
	}
	return c.JSON(http.StatusOK, editorResponse(ep, session))
}
