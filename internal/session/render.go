package session

import (
	"fmt"
	"strings"
)

const (
	msgGreetWaitingID = "Bem-vindo! Envie seu número de identificação de motorista."
	msgInvalidID      = "ID inválido ou não encontrado. Tente novamente."
	msgMainMenu       = "1) Buscar rota\n2) Ajuda\nEnviar \"encerrar\" para sair."
	msgAlreadyAssigned = "Você já possui uma rota atribuída."
	msgInQueue        = "Você está na fila. Aguarde ser chamado."
	msgStillInQueue   = "Você ainda está na fila. Aguarde ser chamado."
	msgInvalidOption  = "Opção inválida."
	msgNoRoutes       = "Nenhuma rota disponível no momento."
	msgUnavailable    = "Rota indisponível, escolhida por outro motorista."
	msgClosedInactive = "Sessão encerrada por inatividade."
	msgSessionClosed  = "Sessão encerrada."
	msgHelpMenu       = "Menu de ajuda. Envie \"voltar\" para retornar ou uma palavra-chave de FAQ."
	msgSyncPlease     = "Sincronização em andamento, por favor aguarde."
)

func greetDriver(name string) string {
	return fmt.Sprintf("Olá, %s!", name)
}

func renderRoutesMenu(routes []RouteRef) string {
	if len(routes) == 0 {
		return msgNoRoutes
	}
	var b strings.Builder
	b.WriteString("Rotas disponíveis:\n")
	for i, r := range routes {
		fmt.Fprintf(&b, "%d) %s - %s\n", i+1, r.Title, r.Description)
	}
	b.WriteString("Envie o número da rota desejada, ou \"encerrar\" para sair.")
	return b.String()
}

func renderClaimSuccess(r RouteRef) string {
	return fmt.Sprintf("Rota confirmada: %s - %s. Boa viagem!", r.Title, r.Description)
}
