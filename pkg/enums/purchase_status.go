package enums

// PurchaseStatus maps to the purchase_status enum in Postgres.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

var purchaseStatuses = []PurchaseStatus{
	PurchaseStatusPending,
	PurchaseStatusCompleted,
	PurchaseStatusFailed,
}

func (s PurchaseStatus) String() string { return string(s) }

func (s PurchaseStatus) IsValid() bool {
	_, err := ParsePurchaseStatus(string(s))
	return err == nil
}

// IsTerminal reports whether no further transition is allowed.
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusFailed
}

func ParsePurchaseStatus(raw string) (PurchaseStatus, error) {
	return parse("purchase status", raw, purchaseStatuses)
}
