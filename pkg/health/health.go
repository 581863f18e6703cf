package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

// Check reports a dependency as unhealthy by returning an error.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
	// Ready returns the first failing check.
	Ready(ctx context.Context) error
}

type health struct {
	checks []Check
}

type HealthParams struct {
	fx.In
	DB     *gorm.DB      `optional:"true"`
	Redis  *redis.Client `optional:"true"`
	Checks []Check       `group:"readiness"`
}

func ProvideHealth(p HealthParams) HealthService {
	checks := make([]Check, 0, len(p.Checks)+2)
	if p.DB != nil {
		checks = append(checks, Check{Name: p.DB.Name(), Check: func(ctx context.Context) error {
			sql, err := p.DB.DB()
			if err != nil {
				return err
			}
			return sql.PingContext(ctx)
		}})
	}
	if p.Redis != nil {
		checks = append(checks, Check{Name: "redis", Check: func(ctx context.Context) error {
			return p.Redis.Ping(ctx).Err()
		}})
	}
	return New(append(checks, p.Checks...)...)
}

func New(checks ...Check) HealthService {
	return &health{checks: checks}
}

func (h *health) Ready(ctx context.Context) error {
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			return fmt.Errorf("%s: %w", check.Name, err)
		}
	}
	return nil
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  StatusHealthy,
		Message: "OK",
	})
}

// Readiness answers 503 when any dependency fails its check.
func (h *health) Readiness(c *gin.Context) {
	this := &Health{
		Status:  StatusHealthy,
		Message: "OK",
		Deps:    make([]Dependency, 0, len(h.checks)),
	}

	code := http.StatusOK
	for _, check := range h.checks {
		dep := Dependency{Name: check.Name, Status: StatusHealthy, Message: "OK"}
		if err := check.Check(c.Request.Context()); err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			this.Status = StatusUnhealthy
			this.Message = "dependency unavailable"
			code = http.StatusServiceUnavailable
		}
		this.Deps = append(this.Deps, dep)
	}

	c.JSON(code, this)
}
