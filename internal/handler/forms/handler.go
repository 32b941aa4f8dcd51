package forms

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/canopy-portal/internal/form"
	"github.com/jwalitptl/canopy-portal/internal/handler"
	"github.com/jwalitptl/canopy-portal/internal/service/forms"
)

type Handler struct {
	svc *forms.Service
}

func NewHandler(svc *forms.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	f := r.Group("/forms/:kind")
	{
		f.GET("/schema", h.GetSchema)
		f.POST("", h.Start)
		f.GET("/:id", h.Get)
		f.PATCH("/:id/fields", h.SetFields)
		f.POST("/:id/next", h.Next)
		f.POST("/:id/previous", h.Previous)
		f.POST("/:id/submit", h.Submit)
		f.DELETE("/:id", h.Discard)
	}
}

func (h *Handler) GetSchema(c *gin.Context) {
	schema, err := h.svc.Schema(c.Param("kind"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(schema))
}

func (h *Handler) Start(c *gin.Context) {
	state, err := h.svc.Start(c, c.Param("kind"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(state))
}

func (h *Handler) Get(c *gin.Context) {
	state, err := h.svc.State(c.Param("kind"), c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(state))
}

// SetFields accepts a flat JSON object of field values. A null value clears
// the field.
func (h *Handler) SetFields(c *gin.Context) {
	var fields form.Fields
	if err := c.ShouldBindJSON(&fields); err != nil {
		handler.BindError(c, err)
		return
	}

	state, err := h.svc.SetFields(c.Param("kind"), c.Param("id"), fields)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(state))
}

type stepResponse struct {
	Result form.StepResult `json:"result"`
	State  form.State      `json:"state"`
}

// Next answers 422 with the missing fields when the current step does not
// pass; the session itself is unchanged.
func (h *Handler) Next(c *gin.Context) {
	res, state, err := h.svc.Advance(c, c.Param("kind"), c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	body := stepResponse{Result: res, State: state}
	if len(res.Missing) > 0 {
		c.JSON(http.StatusUnprocessableEntity, &handler.Response{
			Status:  "error",
			Message: fmt.Sprintf("Please complete step %d: %s.", res.Step, strings.Join(res.Missing, ", ")),
			Data:    body,
		})
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(body))
}

func (h *Handler) Previous(c *gin.Context) {
	state, err := h.svc.Retreat(c.Param("kind"), c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(state))
}

func (h *Handler) Submit(c *gin.Context) {
	res, err := h.svc.Submit(c, c.Param("kind"), c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewMessageResponse("Thank you! Your application has been received.", res))
}

func (h *Handler) Discard(c *gin.Context) {
	if err := h.svc.Discard(c.Param("kind"), c.Param("id")); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
