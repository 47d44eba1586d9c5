// Package reference encodes the token that correlates a batch of purchases
// with a single gateway charge.
//
// Wire format, kept stable for external reconciliation tooling:
//
//	<purchase-id>                          single purchase
//	batch_<id-prefix>_<count>_<base36-ts>  several purchases under one charge
//	<either of the above>|mp:<payment-id>  once the gateway assigned its id
package reference

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lumina-photos/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
)

const (
	BatchPrefix   = "batch_"
	GatewayMarker = "|mp:"

	idPrefixLength = 8

	// MaxExternalLength bounds the value sent as the gateway external reference.
	MaxExternalLength = 64
)

// Reference is the structured form of a checkout reference.
type Reference struct {
	Kind enums.ReferenceKind
	// PurchaseIDs is known when the reference was encoded locally or names ids literally.
	PurchaseIDs      []string
	BatchTag         string
	Size             int
	GatewayPaymentID string
}

// Encode builds the reference for the purchase ids of one checkout.
func Encode(purchaseIDs []string, now time.Time) (Reference, error) {
	ids := make([]string, 0, len(purchaseIDs))
	for _, id := range purchaseIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return Reference{}, pkgerrors.New(pkgerrors.CodeValidation, "purchase id is required")
		}
		ids = append(ids, id)
	}

	switch len(ids) {
	case 0:
		return Reference{}, pkgerrors.New(pkgerrors.CodeValidation, "reference needs at least one purchase")
	case 1:
		if len(ids[0]) > MaxExternalLength {
			return Reference{}, pkgerrors.New(pkgerrors.CodeValidation, "purchase id too long for a gateway reference")
		}
		return Reference{Kind: enums.ReferenceKindSingle, PurchaseIDs: ids, Size: 1}, nil
	}

	prefix := ids[0]
	if len(prefix) > idPrefixLength {
		prefix = prefix[:idPrefixLength]
	}
	prefix = strings.ReplaceAll(prefix, "_", "")
	tag := fmt.Sprintf("%s%s_%d_%s", BatchPrefix, prefix, len(ids), strconv.FormatInt(now.UnixMilli(), 36))

	return Reference{
		Kind:        enums.ReferenceKindBatch,
		PurchaseIDs: ids,
		BatchTag:    tag,
		Size:        len(ids),
	}, nil
}

// WithGatewayPayment returns a copy carrying the gateway's payment id.
func (r Reference) WithGatewayPayment(paymentID string) Reference {
	r.GatewayPaymentID = strings.TrimSpace(paymentID)
	return r
}

// External is the value handed to the gateway as external reference.
func (r Reference) External() string {
	if r.Kind == enums.ReferenceKindBatch && r.BatchTag != "" {
		return r.BatchTag
	}
	return strings.Join(r.PurchaseIDs, ",")
}

// String renders the stored wire format.
func (r Reference) String() string {
	base := r.External()
	if r.GatewayPaymentID == "" {
		return base
	}
	return base + GatewayMarker + r.GatewayPaymentID
}

// IsBatch reports whether the reference covers a tagged batch.
func (r Reference) IsBatch() bool {
	return r.Kind == enums.ReferenceKindBatch && r.BatchTag != ""
}

// Parse reads a stored or echoed reference. Echoed values may be partial,
// so unknown shapes fall back to a literal id list.
func Parse(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, pkgerrors.New(pkgerrors.CodeValidation, "reference is empty")
	}

	var ref Reference
	if idx := strings.LastIndex(raw, GatewayMarker); idx >= 0 {
		ref.GatewayPaymentID = strings.TrimSpace(raw[idx+len(GatewayMarker):])
		raw = strings.TrimSpace(raw[:idx])
	}

	if IsBatchTag(raw) {
		ref.Kind = enums.ReferenceKindBatch
		ref.BatchTag = raw
		ref.Size = batchSize(raw)
		return ref, nil
	}

	if raw == "" {
		if ref.GatewayPaymentID == "" {
			return Reference{}, pkgerrors.New(pkgerrors.CodeValidation, "reference is empty")
		}
		return ref, nil
	}

	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ref.PurchaseIDs = append(ref.PurchaseIDs, part)
		}
	}
	ref.Size = len(ref.PurchaseIDs)
	ref.Kind = enums.ReferenceKindSingle
	if ref.Size > 1 {
		ref.Kind = enums.ReferenceKindBatch
	}
	return ref, nil
}

// IsBatchTag reports whether value looks like batch_<prefix>_<count>_<ts>.
func IsBatchTag(value string) bool {
	if !strings.HasPrefix(value, BatchPrefix) {
		return false
	}
	parts := strings.Split(strings.TrimPrefix(value, BatchPrefix), "_")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return false
	}
	n, err := strconv.Atoi(parts[1])
	return err == nil && n > 1
}

func batchSize(tag string) int {
	parts := strings.Split(strings.TrimPrefix(tag, BatchPrefix), "_")
	if len(parts) != 3 {
		return 0
	}
	n, _ := strconv.Atoi(parts[1])
	return n
}
