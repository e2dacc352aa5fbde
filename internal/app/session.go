// Package app holds per-client session state: which screen the client is
// on, which report is open, and the live subscription tied to that screen.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"eightd/internal/domain"
	"eightd/internal/engine"
	"eightd/internal/events"
)

type Screen string

const (
	ScreenDashboard Screen = "dashboard"
	ScreenWorkspace Screen = "workspace"
)

var ErrNoActiveReport = errors.New("no active report")

// Session tracks one client's position in the app. A session is on the
// dashboard or inside one report's workspace, never both. Opening a report
// subscribes the session to that report's events; leaving the workspace
// cancels the subscription, and notifications for a report that is no
// longer open are dropped.
type Session struct {
	mu       sync.Mutex
	engine   *engine.Engine
	actorID  string
	screen   Screen
	reportID string
	sub      *events.Subscription
	onEvent  func(events.Notification)
}

func NewSession(eng *engine.Engine, actorID string) *Session {
	return &Session{engine: eng, actorID: actorID, screen: ScreenDashboard}
}

// OnEvent sets the callback invoked for events of the open report.
func (s *Session) OnEvent(fn func(events.Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

func (s *Session) Screen() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

func (s *Session) ActiveReportID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportID
}

func (s *Session) ActorID() string { return s.actorID }

// OpenReport switches the session to the workspace for the given report.
// Opening a report while another is open leaves the first cleanly.
func (s *Session) OpenReport(ctx context.Context, id string) (domain.Report, error) {
	rep, err := s.engine.GetReport(ctx, id)
	if err != nil {
		return domain.Report{}, fmt.Errorf("open report %s: %w", id, err)
	}
	s.mu.Lock()
	old := s.sub
	s.screen = ScreenWorkspace
	s.reportID = rep.ID
	s.sub = s.engine.Bus.Subscribe(events.ReportTopic(rep.ID), s.handleNotification)
	s.mu.Unlock()
	// Cancel outside the session lock: the bus holds a subscription's lock
	// while delivering into handleNotification, which takes the session lock.
	if old != nil {
		old.Cancel()
	}
	return rep, nil
}

// CloseReport returns the session to the dashboard.
func (s *Session) CloseReport() {
	s.mu.Lock()
	old := s.sub
	s.sub = nil
	s.screen = ScreenDashboard
	s.reportID = ""
	s.mu.Unlock()
	if old != nil {
		old.Cancel()
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.CloseReport()
}

// handleNotification reacts to changes of the open report. Deletion of the
// open report kicks the session back to the dashboard. Notifications for a
// report that is no longer the active one are dropped.
func (s *Session) handleNotification(n events.Notification) {
	s.mu.Lock()
	if n.ReportID != s.reportID {
		s.mu.Unlock()
		return
	}
	fn := s.onEvent
	var old *events.Subscription
	if n.Type == engine.EventReportDeleted {
		old = s.sub
		s.sub = nil
		s.screen = ScreenDashboard
		s.reportID = ""
	}
	s.mu.Unlock()
	if old != nil {
		// We are running inside this subscription's callback; cancelling it
		// synchronously here would deadlock on its delivery lock.
		go old.Cancel()
	}
	if fn != nil {
		fn(n)
	}
}

// ActiveReport loads the currently open report.
func (s *Session) ActiveReport(ctx context.Context) (domain.Report, error) {
	s.mu.Lock()
	id := s.reportID
	s.mu.Unlock()
	if id == "" {
		return domain.Report{}, ErrNoActiveReport
	}
	return s.engine.GetReport(ctx, id)
}
