package checkout

import "strings"

const defaultRejectionMessage = "Não foi possível processar o pagamento. Verifique os dados ou escolha outro meio de pagamento."

var rejectionMessages = map[string]string{
	"cc_rejected_high_risk":                "Pagamento recusado pela análise de segurança. Tente outro cartão ou pague com PIX.",
	"cc_rejected_insufficient_amount":      "Saldo ou limite insuficiente. Tente outro cartão ou pague com PIX.",
	"cc_amount_rate_limit_exceeded":        "Valor muito alto para uma única cobrança no cartão. Tente PIX ou divida a compra.",
	"cc_rejected_bad_filled_card_number":   "Número do cartão inválido. Confira os dados e tente novamente.",
	"cc_rejected_bad_filled_date":          "Data de validade inválida. Confira os dados e tente novamente.",
	"cc_rejected_bad_filled_security_code": "Código de segurança inválido. Confira os dados e tente novamente.",
	"cc_rejected_bad_filled_other":         "Algum dado do cartão está incorreto. Confira e tente novamente.",
	"cc_rejected_call_for_authorize":       "Autorize o pagamento junto ao emissor do cartão e tente novamente.",
	"cc_rejected_card_disabled":            "Cartão inativo. Ative-o com o emissor ou use outro cartão.",
	"cc_rejected_duplicated_payment":       "Você já fez um pagamento com esse valor. Use outro cartão ou pague com PIX.",
	"cc_rejected_max_attempts":             "Limite de tentativas atingido. Use outro cartão ou pague com PIX.",
	"cc_rejected_invalid_installments":     "O cartão não aceita esse número de parcelas.",
	"cc_rejected_blacklist":                "Não foi possível processar o pagamento com esse cartão. Pague com PIX.",
	"cc_rejected_card_error":               "Não foi possível processar o cartão. Tente outro cartão ou pague com PIX.",
	"cc_rejected_other_reason":             "O emissor recusou o pagamento. Tente outro cartão ou pague com PIX.",
	"rejected_high_risk":                   "Pagamento recusado pela análise de segurança. Tente outro meio de pagamento.",
	"rejected_by_bank":                     "O banco recusou a operação. Tente novamente ou use outro meio de pagamento.",
	"rejected_insufficient_data":           "Dados do comprador incompletos. Confira nome, e-mail e CPF.",
	"amount_rate_limit_exceeded":           "Valor acima do limite permitido para uma única cobrança. Divida a compra.",
	// numeric cause codes from charge creation
	"2067": "CPF inválido. Confira o número informado.",
	"324":  "CPF inválido. Confira o número informado.",
	"3034": "Bandeira do cartão inválida. Confira os dados do cartão.",
	"4020": "Valor da compra inválido para este meio de pagamento.",
}

// RejectionMessage maps a gateway reason code to the message shown to the buyer.
func RejectionMessage(code string) string {
	if msg, ok := rejectionMessages[strings.TrimSpace(code)]; ok {
		return msg
	}
	return defaultRejectionMessage
}
