package session

var faqEntries = map[string]string{
	"pagamento": "Pagamentos são processados semanalmente, às sextas-feiras.",
	"rota":      "Rotas são exibidas por ordem de cadastro dentro do seu tipo de veículo.",
	"bloqueio":  "Contas bloqueadas são atendidas apenas quando não há outros motoristas na fila.",
}

// faqAnswer looks up a FAQ keyword case-sensitively against the static
// content table this core ships with; there is no admin surface to edit it.
func faqAnswer(key string) (string, bool) {
	a, ok := faqEntries[key]
	return a, ok
}
