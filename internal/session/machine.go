package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/driverqueue/dispatcher/internal/adminauth"
	"github.com/driverqueue/dispatcher/internal/claim"
	"github.com/driverqueue/dispatcher/internal/chatapi"
	"github.com/driverqueue/dispatcher/internal/eventlog"
	"github.com/driverqueue/dispatcher/internal/metrics"
	"github.com/driverqueue/dispatcher/internal/ops"
	"github.com/driverqueue/dispatcher/internal/queue"
	"github.com/driverqueue/dispatcher/internal/slot"
	"github.com/driverqueue/dispatcher/internal/store"
	"github.com/driverqueue/dispatcher/internal/timer"
)

// DriverRepo resolves a driver id to its registry record.
type DriverRepo interface {
	FindDriverByID(ctx context.Context, id string) (*store.Driver, error)
}

// BlocklistChecker answers whether a driver is currently blocklisted, and can
// drop its cached view once an admin sync has changed the underlying data.
type BlocklistChecker interface {
	IsBlocklisted(ctx context.Context, driverID string) (bool, error)
	InvalidateAll()
}

// syncFlag is the global "sync-in-progress" gate. While set, every non-admin
// event is discarded with a "please wait" reply.
type syncFlag struct {
	v int32
}

func (f *syncFlag) set()        { atomic.StoreInt32(&f.v, 1) }
func (f *syncFlag) clear()      { atomic.StoreInt32(&f.v, 0) }
func (f *syncFlag) isSet() bool { return atomic.LoadInt32(&f.v) == 1 }

// Machine is the composition of every collaborator the session state machine
// needs to execute one inbound event to completion (component E). One
// Machine instance serves every chat and every group; per-group state lives
// in the queues/slots maps.
type Machine struct {
	sessions   *Repository
	drivers    DriverRepo
	claims     *claim.Executor
	blocklist  BlocklistChecker
	queues     map[string]*queue.Engine
	slots      map[string]*slot.Controller
	timers     *timer.Wheel
	events     *eventlog.Log
	sender     chatapi.Sender
	admin      *adminauth.Handshake
	sync       syncFlag
	log        ops.Logger
}

// New returns a Machine. Group collaborators (queues, slots) are wired in
// afterward via SetGroups, since those controllers are themselves
// constructed with a Notifier bound to this Machine (see internal/boot).
func New(
	sessions *Repository,
	drivers DriverRepo,
	claims *claim.Executor,
	blocklist BlocklistChecker,
	timers *timer.Wheel,
	events *eventlog.Log,
	sender chatapi.Sender,
	admin *adminauth.Handshake,
	log ops.Logger,
) *Machine {
	return &Machine{
		sessions: sessions, drivers: drivers, claims: claims, blocklist: blocklist,
		timers: timers, events: events,
		sender: sender, admin: admin, log: log,
	}
}

// SetGroups installs the per-group queue engines and slot controllers, keyed
// by GroupMoto / GroupGeneral. Must be called once before HandleInbound.
func (m *Machine) SetGroups(queues map[string]*queue.Engine, slots map[string]*slot.Controller) {
	m.queues = queues
	m.slots = slots
}

// SetTimers installs the response-timer wheel. Like SetGroups, this is
// deferred past New because the Wheel itself is constructed against this
// Machine as its SessionChecker.
func (m *Machine) SetTimers(timers *timer.Wheel) {
	m.timers = timers
}

// Dispatch satisfies chatapi.Dispatcher, so a Machine can be wired directly
// as the webhook handler's collaborator.
func (m *Machine) Dispatch(ctx context.Context, chatID, text string) error {
	return m.HandleInbound(ctx, chatID, text)
}

func (m *Machine) reply(ctx context.Context, chatID, text string) {
	if err := m.sender.Send(ctx, chatID, text); err != nil {
		m.log.WithFields(map[string]interface{}{"chatId": chatID, "err": err}).
			Warn("session: reply delivery failed")
	}
}

// HandleInbound runs the global preprocessing chain followed by per-state
// dispatch for one inbound text event from chatID.
func (m *Machine) HandleInbound(ctx context.Context, chatID, text string) error {
	trimmed := strings.TrimSpace(text)

	if handled, err := m.handleAdminEvent(ctx, chatID, trimmed); handled {
		return err
	}

	if m.sync.isSet() {
		m.reply(ctx, chatID, msgSyncPlease)
		return nil
	}

	sessn, created, err := m.sessions.GetOrCreate(ctx, chatID)
	if err != nil {
		return err
	}
	if created {
		m.reply(ctx, chatID, msgGreetWaitingID)
		m.events.Appendf(ctx, "session_created", map[string]string{"chatId": chatID})
		return nil
	}

	if sessn.InQueue {
		return m.handleQueuedEvent(ctx, sessn, trimmed)
	}

	switch sessn.State {
	case StateWaitingID:
		return m.handleWaitingID(ctx, sessn, trimmed)
	case StateMenu:
		return m.handleMenu(ctx, sessn, trimmed)
	case StateHelpMenu:
		return m.handleHelpMenu(ctx, sessn, trimmed)
	case StateChoosingRoute:
		return m.handleChoosingRoute(ctx, sessn, trimmed)
	default:
		return m.clearToTerminal(ctx, sessn.ChatID)
	}
}

// handleQueuedEvent handles an event from a session already waiting in
// queue: "encerrar" dequeues and clears; anything else re-enqueues
// (idempotent) and retries tryAcquire.
func (m *Machine) handleQueuedEvent(ctx context.Context, s *DriverSession, text string) error {
	if isEndCommand(text) {
		if q, ok := m.queues[s.QueueGroup]; ok {
			if err := q.Remove(ctx, s.ChatID); err != nil {
				return err
			}
		}
		return m.clearToTerminal(ctx, s.ChatID)
	}

	q, ok := m.queues[s.QueueGroup]
	if !ok {
		return errors.New("session: no queue engine for group " + s.QueueGroup)
	}
	blocked, err := m.blocklist.IsBlocklisted(ctx, s.DriverID)
	if err != nil {
		return err
	}
	if _, err := q.Enqueue(ctx, queue.Member{
		ChatID: s.ChatID, IsFiorino: isFiorino(s.VehicleType),
		PriorityScore: s.PriorityScore, Blocklisted: blocked,
	}); err != nil {
		return err
	}

	ctrl, ok := m.slots[s.QueueGroup]
	if !ok {
		return errors.New("session: no slot controller for group " + s.QueueGroup)
	}
	acquired, err := ctrl.TryAcquire(ctx, s.ChatID)
	if err != nil {
		return err
	}
	if acquired {
		return m.enterChoosingRoute(ctx, s)
	}
	m.reply(ctx, s.ChatID, msgStillInQueue)
	return nil
}

func (m *Machine) handleWaitingID(ctx context.Context, s *DriverSession, text string) error {
	if _, err := strconv.Atoi(text); err != nil {
		m.reply(ctx, s.ChatID, msgInvalidID)
		return nil
	}
	driver, err := m.drivers.FindDriverByID(ctx, text)
	if errors.Is(err, store.ErrDriverNotFound) {
		m.reply(ctx, s.ChatID, msgInvalidID)
		return nil
	}
	if err != nil {
		return err
	}

	s.DriverID = driver.ID
	s.DriverName = driver.Name
	s.VehicleType = driver.VehicleType
	s.PriorityScore = driver.PriorityScore
	s.QueueGroup = GroupForVehicle(driver.VehicleType)
	s.State = StateMenu
	if err := m.sessions.Save(ctx, s); err != nil {
		return err
	}
	metrics.SessionTransitionsTotal.WithLabelValues(string(StateWaitingID), string(StateMenu)).Inc()
	m.reply(ctx, s.ChatID, greetDriver(driver.Name)+"\n"+msgMainMenu)
	m.events.Appendf(ctx, "driver_identified", map[string]string{"chatId": s.ChatID, "driverId": driver.ID})
	return nil
}

func (m *Machine) handleMenu(ctx context.Context, s *DriverSession, text string) error {
	switch {
	case isEndCommand(text):
		return m.clearToTerminal(ctx, s.ChatID)
	case text == "1":
		already, err := m.claims.AlreadyAssigned(ctx, s.DriverID)
		if err != nil {
			return err
		}
		if already {
			m.reply(ctx, s.ChatID, msgAlreadyAssigned)
			return m.clearToTerminal(ctx, s.ChatID)
		}
		return m.enterQueueFlow(ctx, s)
	case text == "2":
		s.State = StateHelpMenu
		if err := m.sessions.Save(ctx, s); err != nil {
			return err
		}
		metrics.SessionTransitionsTotal.WithLabelValues(string(StateMenu), string(StateHelpMenu)).Inc()
		m.reply(ctx, s.ChatID, msgHelpMenu)
		return nil
	default:
		m.reply(ctx, s.ChatID, msgInvalidOption+"\n"+msgMainMenu)
		return nil
	}
}

// enterQueueFlow enqueues a driver leaving MENU for the first time (not yet
// inQueue), then attempts tryAcquire once before falling back to "in queue".
func (m *Machine) enterQueueFlow(ctx context.Context, s *DriverSession) error {
	q, ok := m.queues[s.QueueGroup]
	if !ok {
		return errors.New("session: no queue engine for group " + s.QueueGroup)
	}
	blocked, err := m.blocklist.IsBlocklisted(ctx, s.DriverID)
	if err != nil {
		return err
	}
	if _, err := q.Enqueue(ctx, queue.Member{
		ChatID: s.ChatID, IsFiorino: isFiorino(s.VehicleType),
		PriorityScore: s.PriorityScore, Blocklisted: blocked,
	}); err != nil {
		return err
	}
	m.events.Appendf(ctx, "queue_enqueue", map[string]string{"chatId": s.ChatID, "group": s.QueueGroup})

	ctrl, ok := m.slots[s.QueueGroup]
	if !ok {
		return errors.New("session: no slot controller for group " + s.QueueGroup)
	}
	acquired, err := ctrl.TryAcquire(ctx, s.ChatID)
	if err != nil {
		return err
	}
	if acquired {
		return m.enterChoosingRoute(ctx, s)
	}
	s.InQueue = true
	if err := m.sessions.Save(ctx, s); err != nil {
		return err
	}
	m.reply(ctx, s.ChatID, msgInQueue)
	return nil
}

func (m *Machine) handleHelpMenu(ctx context.Context, s *DriverSession, text string) error {
	switch {
	case isEndCommand(text):
		return m.clearToTerminal(ctx, s.ChatID)
	case text == "voltar":
		s.State = StateMenu
		if err := m.sessions.Save(ctx, s); err != nil {
			return err
		}
		metrics.SessionTransitionsTotal.WithLabelValues(string(StateHelpMenu), string(StateMenu)).Inc()
		m.reply(ctx, s.ChatID, msgMainMenu)
		return nil
	default:
		answer, ok := faqAnswer(text)
		if !ok {
			answer = msgInvalidOption
		}
		m.reply(ctx, s.ChatID, answer+"\n"+msgHelpMenu)
		return nil
	}
}

func (m *Machine) handleChoosingRoute(ctx context.Context, s *DriverSession, text string) error {
	if isEndCommand(text) {
		if err := m.timers.DisarmTimer(ctx, s.ChatID); err != nil {
			return err
		}
		if err := m.releaseSlot(ctx, s.QueueGroup); err != nil {
			return err
		}
		return m.clearToTerminal(ctx, s.ChatID)
	}

	idx, err := strconv.Atoi(text)
	if err != nil || idx < 1 || idx > len(s.AvailableRoutes) {
		m.reply(ctx, s.ChatID, msgInvalidOption+"\n"+renderRoutesMenu(s.AvailableRoutes))
		return nil
	}
	chosen := s.AvailableRoutes[idx-1]

	already, err := m.claims.AlreadyAssigned(ctx, s.DriverID)
	if err != nil {
		return err
	}
	if already {
		m.reply(ctx, s.ChatID, msgAlreadyAssigned)
		if err := m.timers.DisarmTimer(ctx, s.ChatID); err != nil {
			return err
		}
		if err := m.releaseSlot(ctx, s.QueueGroup); err != nil {
			return err
		}
		return m.clearToTerminal(ctx, s.ChatID)
	}

	result, err := m.claims.Claim(ctx, s.ChatID, chosen.ID, s.DriverID)
	if err != nil {
		return err
	}
	if !result.Committed {
		routes, err := m.claims.RoutesFor(ctx, s.VehicleType)
		if err != nil {
			return err
		}
		s.AvailableRoutes = toRouteRefs(routes)
		if err := m.sessions.Save(ctx, s); err != nil {
			return err
		}
		m.reply(ctx, s.ChatID, msgUnavailable+"\n"+renderRoutesMenu(s.AvailableRoutes))
		return nil
	}

	if err := m.timers.DisarmTimer(ctx, s.ChatID); err != nil {
		return err
	}
	m.reply(ctx, s.ChatID, renderClaimSuccess(chosen))
	if err := m.releaseSlot(ctx, s.QueueGroup); err != nil {
		return err
	}
	return m.clearToTerminal(ctx, s.ChatID)
}

// enterChoosingRoute fetches vehicle-ordered routes, persists the snapshot,
// renders the menu, refreshes slot metadata, and arms the response timer.
func (m *Machine) enterChoosingRoute(ctx context.Context, s *DriverSession) error {
	routes, err := m.claims.RoutesFor(ctx, s.VehicleType)
	if err != nil {
		return err
	}
	s.AvailableRoutes = toRouteRefs(routes)
	s.State = StateChoosingRoute
	s.InQueue = false
	if err := m.sessions.Save(ctx, s); err != nil {
		return err
	}

	if len(s.AvailableRoutes) == 0 {
		m.reply(ctx, s.ChatID, msgNoRoutes)
		if err := m.releaseSlot(ctx, s.QueueGroup); err != nil {
			return err
		}
		s.State = StateMenu
		return m.sessions.Save(ctx, s)
	}

	ctrl, ok := m.slots[s.QueueGroup]
	if !ok {
		return errors.New("session: no slot controller for group " + s.QueueGroup)
	}
	if err := ctrl.RefreshMeta(ctx, s.ChatID); err != nil {
		return err
	}
	if err := m.timers.ArmTimer(ctx, s.ChatID, s.VehicleType, s.QueueGroup); err != nil {
		return err
	}

	metrics.SessionTransitionsTotal.WithLabelValues(string(StateMenu), string(StateChoosingRoute)).Inc()
	m.reply(ctx, s.ChatID, renderRoutesMenu(s.AvailableRoutes))
	m.events.Appendf(ctx, "entered_choosing_route", map[string]string{"chatId": s.ChatID, "group": s.QueueGroup})
	return nil
}

// NotifyAcquired matches slot.Notifier's signature: the slot controller calls
// this for the chat that just won the slot (either via releaseAndNotifyNext
// or activateNext picking a waiter other than the caller), driving it into
// CHOOSING_ROUTE the same way a caller who wins tryAcquire synchronously
// would.
func (m *Machine) NotifyAcquired(ctx context.Context, chatID string) {
	s, ok, err := m.sessions.Get(ctx, chatID)
	if err != nil || !ok {
		if err != nil {
			m.log.WithFields(map[string]interface{}{"chatId": chatID, "err": err}).
				Warn("session: notify-acquired lookup failed")
		}
		return
	}
	if err := m.enterChoosingRoute(ctx, s); err != nil {
		m.log.WithFields(map[string]interface{}{"chatId": chatID, "err": err}).
			Warn("session: notify-acquired transition failed")
	}
}

func (m *Machine) releaseSlot(ctx context.Context, group string) error {
	ctrl, ok := m.slots[group]
	if !ok {
		return nil
	}
	return ctrl.ReleaseAndNotifyNext(ctx)
}

func (m *Machine) clearToTerminal(ctx context.Context, chatID string) error {
	return m.sessions.Clear(ctx, chatID)
}

// IsChoosingRoute satisfies timer.SessionChecker.
func (m *Machine) IsChoosingRoute(ctx context.Context, chatID string) (bool, error) {
	s, ok, err := m.sessions.Get(ctx, chatID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return s.State == StateChoosingRoute, nil
}

// HandleTimerTimeout matches timer.OnTimeout's signature, invoked once the
// wheel's validation chain has already confirmed token, slot, and state.
func (m *Machine) HandleTimerTimeout(ctx context.Context, chatID, vehicleType, group string) {
	m.doHandleTimeout(ctx, chatID, group)
}

// HandleSweeperExpire matches slot.OnExpire's signature. The sweeper already
// knows the slot expired; this looks up the session to find its group before
// delegating, so both entry points converge on one idempotent implementation:
// calling handleTimeout twice for the same chat has the same effect as once.
func (m *Machine) HandleSweeperExpire(ctx context.Context, chatID string) {
	s, ok, err := m.sessions.Get(ctx, chatID)
	if err != nil || !ok {
		return
	}
	m.doHandleTimeout(ctx, chatID, s.QueueGroup)
}

// doHandleTimeout releases the slot and notifies the next waiter, clears the
// session, notifies the chat, and logs the event.
// Calling it twice for the same chatId is harmless: the second call's
// sessions.Get misses (already cleared) and it returns without touching the
// slot.
func (m *Machine) doHandleTimeout(ctx context.Context, chatID, group string) {
	if _, ok, err := m.sessions.Get(ctx, chatID); err == nil && !ok {
		return
	}
	if err := m.releaseSlot(ctx, group); err != nil {
		m.log.WithFields(map[string]interface{}{"chatId": chatID, "err": err}).
			Warn("session: release on timeout failed")
	}
	if err := m.sessions.Clear(ctx, chatID); err != nil {
		m.log.WithFields(map[string]interface{}{"chatId": chatID, "err": err}).
			Warn("session: clear on timeout failed")
	}
	metrics.TimeoutsTotal.WithLabelValues(group).Inc()
	m.reply(ctx, chatID, msgClosedInactive)
	m.events.Appendf(ctx, "timeout", map[string]string{"chatId": chatID, "group": group})
}

func isEndCommand(text string) bool {
	return text == "encerrar" || text == "0"
}

func isFiorino(vehicleType string) bool {
	return strings.EqualFold(vehicleType, "fiorino")
}

func toRouteRefs(routes []store.Route) []RouteRef {
	out := make([]RouteRef, 0, len(routes))
	for _, r := range routes {
		out = append(out, RouteRef{ID: r.ID, Title: r.Title, Description: r.Description, VehicleType: r.VehicleType})
	}
	return out
}
