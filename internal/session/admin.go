package session

import (
	"context"
	"errors"
	"time"

	"github.com/driverqueue/dispatcher/internal/adminauth"
	"github.com/driverqueue/dispatcher/internal/eventlog"
)

// syncMaxDuration bounds how long a sync handshake can hold the global flag
// if the external ETL it gates never reports completion back to the core.
const syncMaxDuration = 30 * time.Minute

const (
	msgAdminAwaitingPassword = "Operação administrativa. Informe a senha."
	msgAdminBadPassword      = "Senha incorreta."
	msgAdminNoHandshake      = "Nenhuma operação administrativa pendente."
	msgSyncStarted           = "Sincronização iniciada."
	msgSyncDriverStarted     = "Sincronização de motoristas iniciada."
	msgNoLogToday            = "Nenhum evento registrado hoje."
	logDiarioChunkSize       = 3500
)

// handleAdminEvent gives admin commands (and, transitively, password replies
// to a pending handshake) precedence over every other event, including the
// sync-in-progress gate. It returns handled=true when the event was fully
// consumed here.
func (m *Machine) handleAdminEvent(ctx context.Context, chatID, text string) (bool, error) {
	_, pending, err := m.admin.IsPending(ctx, chatID)
	if err != nil {
		return true, err
	}
	if pending {
		return true, m.completeHandshake(ctx, chatID, text)
	}

	switch {
	case text == "/sync" || text == "/atualizar_dados":
		return true, m.beginOrRunSync(ctx, chatID, adminauth.KindSyncAll)
	case text == "/syncDriver":
		return true, m.beginOrRunSync(ctx, chatID, adminauth.KindSyncDriver)
	case text == "/logdiario":
		return true, m.runLogDiario(ctx, chatID)
	default:
		return false, nil
	}
}

func (m *Machine) beginOrRunSync(ctx context.Context, chatID string, kind adminauth.Kind) error {
	if m.admin.Authorized(ctx, chatID) {
		m.startSync(ctx, chatID, kind)
		return nil
	}
	if err := m.admin.Begin(ctx, chatID, kind); err != nil {
		return err
	}
	m.reply(ctx, chatID, msgAdminAwaitingPassword)
	return nil
}

func (m *Machine) runLogDiario(ctx context.Context, chatID string) error {
	if !m.admin.Authorized(ctx, chatID) {
		if err := m.admin.Begin(ctx, chatID, adminauth.KindLogDiario); err != nil {
			return err
		}
		m.reply(ctx, chatID, msgAdminAwaitingPassword)
		return nil
	}
	return m.dumpLogDiario(ctx, chatID)
}

// completeHandshake submits text as the pending handshake's password and
// carries out the action the handshake was begun for.
func (m *Machine) completeHandshake(ctx context.Context, chatID, text string) error {
	kind, err := m.admin.SubmitPassword(ctx, chatID, text)
	switch {
	case errors.Is(err, adminauth.ErrBadPassword):
		m.reply(ctx, chatID, msgAdminBadPassword)
		return nil
	case errors.Is(err, adminauth.ErrAwaitingPassword):
		m.reply(ctx, chatID, msgAdminNoHandshake)
		return nil
	case err != nil:
		return err
	}

	switch kind {
	case adminauth.KindSyncAll, adminauth.KindSyncDriver:
		m.startSync(ctx, chatID, kind)
	case adminauth.KindLogDiario:
		return m.dumpLogDiario(ctx, chatID)
	}
	return nil
}

func (m *Machine) startSync(ctx context.Context, chatID string, kind adminauth.Kind) {
	m.sync.set()
	time.AfterFunc(syncMaxDuration, m.sync.clear)

	if kind == adminauth.KindSyncDriver {
		m.reply(ctx, chatID, msgSyncDriverStarted)
	} else {
		m.reply(ctx, chatID, msgSyncStarted)
	}
	m.events.Appendf(ctx, "admin_sync_started", map[string]string{"chatId": chatID, "kind": string(kind)})
}

// SyncComplete clears the global sync flag and drops the blocklist cache
// (a sync can change any driver's blocklist membership, so the whole cache
// is purged rather than picking out individual entries), called by the
// boot-level integration once the external ETL (out of scope) reports
// completion.
func (m *Machine) SyncComplete(ctx context.Context) {
	m.sync.clear()
	m.blocklist.InvalidateAll()
	m.events.Appendf(ctx, "admin_sync_complete", nil)
}

func (m *Machine) dumpLogDiario(ctx context.Context, chatID string) error {
	lines, err := m.events.Today(ctx)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		m.reply(ctx, chatID, msgNoLogToday)
		return nil
	}
	for _, chunk := range eventlog.Chunk(lines, logDiarioChunkSize) {
		m.reply(ctx, chatID, chunk)
	}
	return nil
}
