package main

// CategoryPolicy define como a falta de estoque de uma categoria afeta o pedido
type CategoryPolicy int

const (
	// PolicyOptional — a falta de estoque apenas exclui o item
	PolicyOptional CategoryPolicy = iota
	// PolicyMandatory — a falta de estoque bloqueia o pedido inteiro
	PolicyMandatory
)

func (p CategoryPolicy) String() string {
	if p == PolicyMandatory {
		return "mandatory"
	}
	return "optional"
}

// Tags de categoria conhecidas pelo classificador
const (
	CategoryTextbook          = "TEXTBOOK"
	CategoryMandatoryNotebook = "MANDATORY_NOTEBOOK"
	CategoryOther             = "OTHER"
)

// classifyCategory mapeia a tag de categoria para a política de falha.
// Função pura e total: qualquer tag desconhecida é opcional.
func classifyCategory(tag string) CategoryPolicy {
	switch tag {
	case CategoryTextbook, CategoryMandatoryNotebook:
		return PolicyMandatory
	default:
		return PolicyOptional
	}
}
