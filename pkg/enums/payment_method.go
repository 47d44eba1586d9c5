package enums

// PaymentMethod is the rail a buyer settles a checkout with.
type PaymentMethod string

const (
	PaymentMethodPix  PaymentMethod = "pix"
	PaymentMethodCard PaymentMethod = "card"
)

var paymentMethods = []PaymentMethod{PaymentMethodPix, PaymentMethodCard}

func (p PaymentMethod) String() string { return string(p) }

func (p PaymentMethod) IsValid() bool {
	_, err := ParsePaymentMethod(string(p))
	return err == nil
}

// IdempotencyPrefix keeps a pix and a card charge for the same reference
// from colliding on the gateway's X-Idempotency-Key.
func (p PaymentMethod) IdempotencyPrefix() string {
	return string(p) + "-"
}

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	return parse("payment method", raw, paymentMethods)
}
