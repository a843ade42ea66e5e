package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"flow-observer/src/query"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------

// requestParams reads symbol, timeframe, limit and bins. Unparseable numbers
// become 0 and fall back to the configured defaults.
func requestParams(c *gin.Context) query.Params {
	return query.Params{
		Symbol:    c.Param("symbol"),
		Timeframe: c.Query("timeframe"),
		Limit:     queryInt(c, "limit"),
		Bins:      queryInt(c, "bins"),
	}
}

// -----------------------------------------------------------------------------

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return v
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) respond(c *gin.Context, body interface{}, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, body)
	case errors.Is(err, query.ErrNotTracked):
		c.JSON(http.StatusNotFound, gin.H{"error": query.ErrNotTracked.Error()})
	default:
		s.Logger.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// -----------------------------------------------------------------------------

func normalizeList(in []string, upper bool) map[string]struct{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if upper {
			v = strings.ToUpper(v)
		} else {
			v = strings.ToLower(v)
		}
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
