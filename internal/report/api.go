package report

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"PerpSim/internal/observability"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is the error half of the envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// API serves the finished run over HTTP. The report is built once; the
// handlers only read it, so the server is safe to run concurrently
// with nothing else touching the core.
type API struct {
	report  *Report
	metrics *observability.Metrics
}

func NewAPI(r *Report, metrics *observability.Metrics) *API {
	return &API{report: r, metrics: metrics}
}

// Router builds the gin engine with all read-only routes.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), a.observe())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/report", a.getReport)
		v1.GET("/book", a.getBook)
		v1.GET("/accounts", a.getAccounts)
		v1.GET("/positions", a.getPositions)
		v1.GET("/positions/:user_id", a.getPosition)
		v1.GET("/fills", a.getFills)
		v1.GET("/funding", a.getFunding)
		v1.GET("/liquidations", a.getLiquidations)
	}

	return router
}

func (a *API) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if a.metrics == nil {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		a.metrics.QueryRequests.WithLabelValues(endpoint, http.StatusText(c.Writer.Status())).Inc()
		a.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeNotFound, Message: message},
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   &Error{Code: ErrCodeBadRequest, Message: message},
	})
}

func (a *API) getReport(c *gin.Context)       { success(c, a.report) }
func (a *API) getBook(c *gin.Context)         { success(c, a.report.Book) }
func (a *API) getAccounts(c *gin.Context)     { success(c, a.report.Accounts) }
func (a *API) getPositions(c *gin.Context)    { success(c, a.report.Positions) }
func (a *API) getFills(c *gin.Context)        { success(c, a.report.Fills) }
func (a *API) getFunding(c *gin.Context)      { success(c, a.report.Funding) }
func (a *API) getLiquidations(c *gin.Context) { success(c, a.report.Liquidations) }

func (a *API) getPosition(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		badRequest(c, "invalid user id")
		return
	}

	for _, pos := range a.report.Positions {
		if pos.UserID == userID.String() {
			success(c, pos)
			return
		}
	}
	notFound(c, "no open position for user")
}
