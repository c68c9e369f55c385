// Package schedule runs the automatic end-of-day close.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"comanda/backend/internal/domain"
	"comanda/backend/internal/service"
	"comanda/backend/internal/store"
)

type AutoCloser struct {
	scheduler gocron.Scheduler
	service   *service.Service
}

// NewAutoCloser schedules a daily close of the current business day at the
// given local wall-clock time ("15:04").
func NewAutoCloser(svc *service.Service, at string, loc *time.Location) (*AutoCloser, error) {
	hour, minute, err := parseWallClock(at)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	closer := &AutoCloser{scheduler: scheduler, service: svc}
	_, err = scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(closer.runClose),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule daily close: %w", err)
	}

	return closer, nil
}

func (c *AutoCloser) Start() {
	c.scheduler.Start()
	log.Printf("[schedule] daily auto-close scheduled")
}

func (c *AutoCloser) Shutdown() error {
	return c.scheduler.Shutdown()
}

func (c *AutoCloser) runClose() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The close requires an admin actor; the scheduler acts as one.
	ctx = service.WithActor(ctx, domain.Actor{Username: "scheduler", Role: domain.RoleAdmin})

	result, err := c.service.CloseDay(ctx, "")
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			log.Printf("[schedule] auto-close: nothing to close today")
			return
		}
		log.Printf("[schedule] auto-close failed: %v", err)
		return
	}
	log.Printf("[schedule] auto-close: day %s closed at %d cents", result.Date, result.TotalCents)
}

func parseWallClock(at string) (uint, uint, error) {
	parts := strings.SplitN(strings.TrimSpace(at), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("auto-close time must be HH:MM, got %q", at)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("auto-close hour out of range in %q", at)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("auto-close minute out of range in %q", at)
	}
	return uint(hour), uint(minute), nil
}
