package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"
)

var orderingParam = "ordering"

// Ordering binds the `ordering` query param; a "-" prefix reverses the sort.
type Ordering struct {
	Ordering string
}

func (ord *Ordering) Bind(ctx echo.Context) {
	ord.Ordering = strings.TrimSpace(ctx.QueryParam(orderingParam))
}
