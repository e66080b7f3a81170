package main

// Mensagens fixas dos dois modos de falta de estoque
const (
	blockingStockMessage = "required items in your order are out of stock; the order cannot be placed"
	partialStockMessage  = "some optional items are out of stock; remove them to continue"
)

// ShortfallLine descreve uma linha que falhou na validação de estoque
type ShortfallLine struct {
	ProductID        string `json:"product_id"`
	CategoryTag      string `json:"category_tag"`
	AvailableBundles int    `json:"available_bundles"`
}

// StockShortfall agrega todas as linhas insuficientes de uma passada de
// validação. Valor transiente, nunca persistido.
type StockShortfall struct {
	Lines []ShortfallLine `json:"lines"`
}

// Blocking indica se alguma linha em falta é de categoria obrigatória
func (s *StockShortfall) Blocking() bool {
	for _, line := range s.Lines {
		if classifyCategory(line.CategoryTag) == PolicyMandatory {
			return true
		}
	}
	return false
}

// ExcludableTags retorna as tags opcionais em falta, sem repetição,
// na ordem da primeira ocorrência
func (s *StockShortfall) ExcludableTags() []string {
	seen := make(map[string]bool, len(s.Lines))
	tags := make([]string, 0, len(s.Lines))
	for _, line := range s.Lines {
		if seen[line.CategoryTag] {
			continue
		}
		seen[line.CategoryTag] = true
		tags = append(tags, line.CategoryTag)
	}
	return tags
}

// AsError converte o relatório no erro de negócio correspondente:
// bloqueante carrega só a mensagem fixa; parcial carrega as tags excluíveis
func (s *StockShortfall) AsError() *CheckoutError {
	if s.Blocking() {
		return &CheckoutError{Code: CodeInsufficientStock, Message: blockingStockMessage}
	}
	return &CheckoutError{
		Code:           CodeInsufficientStock,
		Message:        partialStockMessage,
		ExcludableTags: s.ExcludableTags(),
	}
}

// validateStock compara as linhas do carrinho com os registros atuais do
// catálogo e devolve o relatório de faltas (nil quando tudo passa).
//
// Rotina única, sem efeitos colaterais, invocada duas vezes: na pré-checagem
// consultiva fora de transação e na rechecagem vinculante dentro da transação
// de commit. Nunca duplicar esta lógica.
func validateStock(lines []CartLine, products map[string]*Product) *StockShortfall {
	var shortfalls []ShortfallLine
	for _, line := range lines {
		if line.BundleCount <= 0 {
			continue
		}
		product, ok := products[line.ProductID]
		if !ok || product == nil {
			// produto removido do catálogo: falta com zero disponível
			shortfalls = append(shortfalls, ShortfallLine{
				ProductID:        line.ProductID,
				CategoryTag:      CategoryOther,
				AvailableBundles: 0,
			})
			continue
		}
		available := product.AvailableBundles()
		if line.BundleCount > available {
			shortfalls = append(shortfalls, ShortfallLine{
				ProductID:        line.ProductID,
				CategoryTag:      product.CategoryTag,
				AvailableBundles: available,
			})
		}
	}
	if len(shortfalls) == 0 {
		return nil
	}
	return &StockShortfall{Lines: shortfalls}
}
